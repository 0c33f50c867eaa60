// Package store persists run history with gorm. SQLite is the default
// backend; a postgres DSN selects PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when a run ID prefix matches several runs.
var ErrAmbiguous = errors.New("run id prefix is ambiguous")

// IsPostgresDSN reports whether dsn addresses PostgreSQL rather than a SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Open connects to the history database and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	// Configure custom logger to ignore record not found errors
	newLogger := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	config := &gorm.Config{Logger: newLogger}

	var dialector gorm.Dialector
	if IsPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the history tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RunRecord{}, &TaskRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunRepository handles database operations for runs
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new instance of RunRepository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create stores a run together with its task records.
func (r *RunRepository) Create(ctx context.Context, run *RunRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
}

// List returns the most recent runs without their task records.
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var runs []RunRecord
	err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// likePrefix matches values starting with prefix, taken literally.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

// GetByRunID looks a run up by its full ID or a unique prefix.
func (r *RunRepository) GetByRunID(ctx context.Context, id string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var runs []RunRecord
	err := r.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("host, id") }).
		Where(`run_id LIKE ? ESCAPE '\'`, likePrefix(id)).
		Limit(2).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return &runs[0], nil
	default:
		for i := range runs {
			if runs[i].RunID == id {
				return &runs[i], nil
			}
		}
		return nil, fmt.Errorf("%s: %w", id, ErrAmbiguous)
	}
}
