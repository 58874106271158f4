package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucasnoah/ada/internal/isolation"
	"github.com/lucasnoah/ada/internal/task"
)

// BackendFactory returns a fresh backend for one job.
type BackendFactory func(j *Job, t task.Task) (isolation.Backend, error)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// KeepWorkspace skips Cleanup so the isolated copy can be inspected.
	KeepWorkspace bool
	Logger        *slog.Logger
}

// Dispatcher runs one job through its backend and records every status
// transition.
type Dispatcher struct {
	store    Store
	backends BackendFactory
	keep     bool
	log      *slog.Logger
}

func NewDispatcher(store Store, backends BackendFactory, opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{store: store, backends: backends, keep: opts.KeepWorkspace, log: log}
}

// Store returns the job store.
func (d *Dispatcher) Store() Store { return d.store }

// Enqueue creates a pending job for t.
func (d *Dispatcher) Enqueue(ctx context.Context, t task.Task, backend, repo string) (*Job, error) {
	j, err := NewJob(t, backend, repo)
	if err != nil {
		return nil, err
	}
	if err := d.store.Create(ctx, j); err != nil {
		return nil, err
	}
	d.log.Debug("job enqueued", "job", j.ID, "task", t.ID)
	return j, nil
}

// Run marks j running, executes t and records the result. The returned
// error covers setup and infrastructure failures; a task that ran and
// failed is (false, nil).
func (d *Dispatcher) Run(ctx context.Context, j *Job, t task.Task) (ok bool, err error) {
	log := d.log.With("job", j.ID, "task", t.ID)

	backend, err := d.backends(j, t)
	if err != nil {
		d.finish(j, StatusFailed, err.Error())
		return false, fmt.Errorf("build backend: %w", err)
	}
	if err := d.store.SetStatus(ctx, j.ID, StatusRunning, ""); err != nil {
		return false, err
	}
	j.Status = StatusRunning
	log.Info("job running", "backend", backend.Name())
	d.note(j, "running on "+backend.Name())

	defer func() {
		if d.keep {
			log.Info("keeping workspace")
			d.note(j, "workspace kept")
			return
		}
		if cerr := backend.Cleanup(); cerr != nil {
			log.Warn("cleanup failed", "error", cerr)
			d.note(j, "cleanup failed: "+cerr.Error())
		}
	}()

	if err := backend.Setup(ctx, t, j.Repo); err != nil {
		d.finish(j, StatusFailed, "setup: "+err.Error())
		return false, fmt.Errorf("setup: %w", err)
	}
	d.note(j, "workspace ready")
	ok, err = backend.Execute(ctx, t, j.Repo)
	switch {
	case err != nil:
		d.finish(j, StatusFailed, err.Error())
		return false, err
	case ok:
		d.finish(j, StatusSuccess, "")
	default:
		d.finish(j, StatusFailed, "task did not complete")
	}
	log.Info("job finished", "status", j.Status)
	return ok, nil
}

// finish records a terminal status even when the run's context is done.
func (d *Dispatcher) finish(j *Job, status Status, msg string) {
	j.Status = status
	j.Error = msg
	if err := d.store.SetStatus(context.Background(), j.ID, status, msg); err != nil {
		d.log.Error("record job status failed", "job", j.ID, "status", status, "error", err)
	}
	line := "status " + string(status)
	if msg != "" {
		line += ": " + msg
	}
	d.note(j, line)
}

// note appends to the job log. Failures are logged, never returned.
func (d *Dispatcher) note(j *Job, line string) {
	if err := d.store.AppendLog(context.Background(), j.ID, line); err != nil {
		d.log.Warn("append job log failed", "job", j.ID, "error", err)
	}
}
