package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/ada/internal/task"
)

const DefaultConcurrency = 2

// ErrTaskInFlight rejects a job whose task is already being executed.
type ErrTaskInFlight struct {
	TaskID string
}

func (e *ErrTaskInFlight) Error() string {
	return fmt.Sprintf("task %s already in flight", e.TaskID)
}

// Item pairs a created job with its task.
type Item struct {
	Job  *Job
	Task task.Task
}

// Result is the outcome of one item in a batch.
type Result struct {
	JobID   string
	TaskID  string
	Success bool
	Err     error
}

// Pool runs independent jobs concurrently. A task ID may only be in flight
// once across every batch the pool is running.
type Pool struct {
	d     *Dispatcher
	limit int
	log   *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewPool(d *Dispatcher, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{d: d, limit: concurrency, log: logger, inflight: map[string]bool{}}
}

func (p *Pool) claim(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[taskID] {
		return false
	}
	p.inflight[taskID] = true
	return true
}

func (p *Pool) release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, taskID)
}

// RunAll executes items with bounded concurrency and returns one Result per
// item in input order. Items are claimed in order before any starts, so a
// duplicate task ID in the same batch is always the one rejected.
func (p *Pool) RunAll(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	claimed := make([]bool, len(items))
	for i, it := range items {
		results[i] = Result{JobID: it.Job.ID, TaskID: it.Task.ID}
		if !p.claim(it.Task.ID) {
			err := &ErrTaskInFlight{TaskID: it.Task.ID}
			results[i].Err = err
			p.d.finish(it.Job, StatusFailed, err.Error())
			p.log.Warn("rejected duplicate job", "job", it.Job.ID, "task", it.Task.ID)
			continue
		}
		claimed[i] = true
	}

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, it := range items {
		if !claimed[i] {
			continue
		}
		g.Go(func() error {
			defer p.release(it.Task.ID)
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				p.d.finish(it.Job, StatusFailed, err.Error())
				return nil
			}
			ok, err := p.d.Run(ctx, it.Job, it.Task)
			results[i].Success = ok
			results[i].Err = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
