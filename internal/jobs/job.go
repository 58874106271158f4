// Package jobs records task executions in a database and dispatches them to
// isolation backends, one at a time or as a bounded concurrent batch.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/ada/internal/task"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return st, nil
	}
	return "", errors.New("unknown job status " + s)
}

var ErrJobNotFound = errors.New("job not found")

// Job is one execution of a task against a repository.
type Job struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	Title      string          `json:"title"`
	Backend    string          `json:"backend"`
	Repo       string          `json:"repo"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Task       json.RawMessage `json:"task,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// NewJob returns a pending job for t.
func NewJob(t task.Task, backend, repo string) (*Job, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Title:     t.Title,
		Backend:   backend,
		Repo:      repo,
		Status:    StatusPending,
		Task:      raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Duration is the run time of a started job, measured to now if unfinished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt)
}

// ListOpts filters List. A zero Status matches every job.
type ListOpts struct {
	Status Status
	TaskID string
	Limit  int
}

// LogLine is one entry of a job's append-only log.
type LogLine struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	SetStatus(ctx context.Context, id string, status Status, errMsg string) error
	List(ctx context.Context, opts ListOpts) ([]Job, error)
	AppendLog(ctx context.Context, id, line string) error
	// Logs returns a job's log in append order.
	Logs(ctx context.Context, id string) ([]LogLine, error)
	Close() error
}

// Open picks the store from dsn: postgres:// and postgresql:// URLs use
// Postgres, anything else is a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(dsn)
}
