package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/c-r-lewis/plumbops/internal/executor"
)

type RunRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *RunRepository
	ctx  context.Context
}

func (s *RunRepositoryTestSuite) SetupTest() {
	db, err := Open(filepath.Join(s.T().TempDir(), "state", "history.db"))
	s.Require().NoError(err, "Failed to open history database")
	s.db = db
	s.repo = NewRunRepository(db)
	s.ctx = context.Background()
}

func (s *RunRepositoryTestSuite) TearDownTest() {
	s.Require().NoError(Close(s.db))
}

func sampleResult(id string, started time.Time) *executor.RunResult {
	return &executor.RunResult{
		ID:         id,
		Playbook:   "webserver",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Hosts: map[string]*executor.HostResult{
			"web1": {
				Host:  "web1",
				State: executor.ConnClosed,
				Tasks: []executor.TaskResult{
					{Task: "install nginx", Module: "package", Status: executor.StatusChanged, Msg: "Installed nginx", Duration: 1500 * time.Millisecond},
					{Task: "copy index", Module: "file", Status: executor.StatusSkipped, Reason: executor.ReasonSatisfied},
				},
				Handlers: []executor.TaskResult{
					{Task: "restart nginx", Module: "service", Handler: true, Status: executor.StatusChanged},
				},
			},
			"web2": {
				Host:  "web2",
				State: executor.ConnUnreachable,
				Tasks: []executor.TaskResult{
					{Task: "install nginx", Module: "package", Status: executor.StatusSkipped, Reason: executor.ReasonUnreachable},
					{Task: "copy index", Module: "file", Status: executor.StatusSkipped, Reason: executor.ReasonUnreachable},
				},
			},
		},
	}
}

func (s *RunRepositoryTestSuite) TestCreateAndGet() {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := FromResult(sampleResult("6f1c2a9e-0000-4000-8000-000000000001", started))
	s.Require().NoError(s.repo.Create(s.ctx, rec))
	s.Require().NotZero(rec.ID)

	got, err := s.repo.GetByRunID(s.ctx, "6f1c2a9e")
	s.Require().NoError(err)
	s.Equal(rec.RunID, got.RunID)
	s.Equal(2, got.Hosts)
	s.Equal(2, got.Changed)
	s.Equal(1, got.Satisfied)
	s.Equal(2, got.Skipped)
	s.Equal(1, got.Unreachable)
	s.Equal("web2", got.FailedHosts)
	s.False(got.Succeeded())

	s.Require().Len(got.Tasks, 5)
	s.Equal("web1", got.Tasks[0].Host)
	s.Equal("install nginx", got.Tasks[0].Task)
	s.Equal(int64(1500), got.Tasks[0].DurationMs)
	s.True(got.Tasks[2].Handler)
	s.Equal("unreachable", got.Tasks[4].Reason)
}

func (s *RunRepositoryTestSuite) TestListNewestFirst() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{
		"aaaaaaaa-0000-4000-8000-000000000001",
		"aaaaaaaa-0000-4000-8000-000000000002",
		"bbbbbbbb-0000-4000-8000-000000000003",
	}
	for i, id := range ids {
		s.Require().NoError(s.repo.Create(s.ctx, FromResult(sampleResult(id, base.Add(time.Duration(i)*time.Hour)))))
	}

	runs, err := s.repo.List(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal(ids[2], runs[0].RunID)
	s.Equal(ids[1], runs[1].RunID)
	s.Empty(runs[0].Tasks, "list does not load task records")

	_, err = s.repo.GetByRunID(s.ctx, "aaaaaaaa")
	s.ErrorIs(err, ErrAmbiguous)

	got, err := s.repo.GetByRunID(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(ids[0], got.RunID)
}

func (s *RunRepositoryTestSuite) TestNotFound() {
	_, err := s.repo.GetByRunID(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.repo.GetByRunID(s.ctx, "")
	s.ErrorIs(err, ErrNotFound)
}

func (s *RunRepositoryTestSuite) TestPrefixIsLiteral() {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.repo.Create(s.ctx, FromResult(sampleResult("cafe0001-0000-4000-8000-000000000001", started))))

	for _, pattern := range []string{"%", "_", "cafe_001", "caf%"} {
		_, err := s.repo.GetByRunID(s.ctx, pattern)
		s.ErrorIs(err, ErrNotFound, pattern)
	}
	got, err := s.repo.GetByRunID(s.ctx, "cafe0001")
	s.Require().NoError(err)
	s.Equal("cafe0001-0000-4000-8000-000000000001", got.RunID)
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `abc%`, likePrefix("abc"))
	assert.Equal(t, `a\_b\%c\\%`, likePrefix(`a_b%c\`))
}

func TestRunRepository(t *testing.T) {
	suite.Run(t, new(RunRepositoryTestSuite))
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://plumbops@db:5432/history"))
	assert.True(t, IsPostgresDSN("host=localhost user=postgres dbname=plumbops port=5432 sslmode=disable"))
	assert.False(t, IsPostgresDSN("/home/ops/.plumbops/history.db"))
	assert.False(t, IsPostgresDSN("history.db"))
}
