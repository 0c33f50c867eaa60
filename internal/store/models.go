package store

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/c-r-lewis/plumbops/internal/executor"
)

// RunRecord is one executed run.
type RunRecord struct {
	gorm.Model
	RunID         string       `json:"run_id" gorm:"not null;uniqueIndex"`
	Playbook      string       `json:"playbook" gorm:"index"`
	CheckMode     bool         `json:"check_mode" gorm:"not null;default:false"`
	StartedAt     time.Time    `json:"started_at" gorm:"index"`
	FinishedAt    time.Time    `json:"finished_at"`
	Hosts         int          `json:"hosts"`
	Changed       int          `json:"changed"`
	Satisfied     int          `json:"satisfied"`
	Skipped       int          `json:"skipped"`
	Failed        int          `json:"failed"`
	Indeterminate int          `json:"indeterminate"`
	Unreachable   int          `json:"unreachable"`
	FailedHosts   string       `json:"failed_hosts,omitempty" gorm:"type:text"`
	Tasks         []TaskRecord `json:"tasks,omitempty" gorm:"foreignKey:RunRecordID;constraint:OnDelete:CASCADE"`
}

// TaskRecord is one task or handler outcome on one host.
type TaskRecord struct {
	gorm.Model
	RunRecordID uint   `json:"-" gorm:"not null;index"`
	Host        string `json:"host" gorm:"not null;index"`
	Task        string `json:"task" gorm:"not null"`
	Module      string `json:"module"`
	Handler     bool   `json:"handler"`
	Status      string `json:"status" gorm:"not null;index"`
	Reason      string `json:"reason,omitempty"`
	Msg         string `json:"msg,omitempty" gorm:"type:text"`
	Error       string `json:"error,omitempty" gorm:"type:text"`
	DurationMs  int64  `json:"duration_ms"`
}

// Succeeded reports a run without failed hosts.
func (r RunRecord) Succeeded() bool {
	return r.FailedHosts == ""
}

// FromResult converts an executor result into a record ready to insert.
func FromResult(res *executor.RunResult) *RunRecord {
	sum := res.Summary()
	rec := &RunRecord{
		RunID:         res.ID,
		Playbook:      res.Playbook,
		CheckMode:     res.CheckMode,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		Changed:       sum.Changed,
		Satisfied:     sum.Satisfied,
		Skipped:       sum.Skipped,
		Failed:        sum.Failed,
		Indeterminate: sum.Indeterminate,
		Unreachable:   sum.Unreachable,
		FailedHosts:   strings.Join(res.FailedHosts(), ","),
	}

	names := res.HostNames()
	rec.Hosts = len(names)
	for _, name := range names {
		h, _ := res.Host(name)
		for _, list := range [][]executor.TaskResult{h.Tasks, h.Handlers} {
			for _, t := range list {
				rec.Tasks = append(rec.Tasks, TaskRecord{
					Host:       name,
					Task:       t.Task,
					Module:     t.Module,
					Handler:    t.Handler,
					Status:     string(t.Status),
					Reason:     string(t.Reason),
					Msg:        t.Msg,
					Error:      t.Error,
					DurationMs: t.Duration.Milliseconds(),
				})
			}
		}
	}
	return rec
}
