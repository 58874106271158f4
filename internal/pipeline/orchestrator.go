// Package pipeline drives a task through an ordered list of stages,
// retrying the whole cycle with accumulated feedback when a stage rejects
// the work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lucasnoah/ada/internal/task"
)

// DefaultMaxRetries is the cycle budget when Options.MaxRetries is unset.
const DefaultMaxRetries = 3

// Options configures an Orchestrator.
type Options struct {
	MaxRetries int
	Rules      []RuleProvider
	// Store records run history and the completed set. Optional.
	Store *Store
	// Completed seeds completed_tasks in addition to the store's set.
	Completed []string
	// Seed entries are copied into the context before the first cycle.
	Seed map[string]any
	// Resume continues an in-progress run record at the cycle it reached,
	// with that cycle's feedback, instead of starting over.
	Resume bool
	Logger *slog.Logger
}

// Outcome is the result of a run. A spent retry budget is an Outcome with
// Success false, not an error.
type Outcome struct {
	Success     bool
	Attempts    int
	Feedback    []string
	FailedStage string
	Context     Context
}

// Orchestrator runs stages in a fixed order.
type Orchestrator struct {
	stages []Stage
	opts   Options
	log    *slog.Logger
}

func New(stages []Stage, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{stages: stages, opts: opts, log: log}
}

// Stages returns the stage names in execution order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

// Run drives t through the stages in workspace. Each cycle runs every stage
// in order; the first rejection stores its feedback and starts the next
// cycle. Stage errors abort the run.
func (o *Orchestrator) Run(ctx context.Context, t task.Task, workspace string) (*Outcome, error) {
	log := o.log.With("task", t.ID)

	pc, err := o.seed(ctx, t, workspace)
	if err != nil {
		return nil, err
	}
	first, lastFeedback, failedStage, err := o.begin(t, workspace)
	if err != nil {
		return nil, err
	}
	if first > 1 {
		log.Info("resuming run", "attempt", first, "failed_stage", failedStage)
		if len(lastFeedback) > 0 {
			pc[KeyFeedback] = lastFeedback
			pc[KeyFailedStage] = failedStage
		}
	}

	for attempt := first; attempt <= o.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, o.fail(t.ID, err)
		}
		pc[KeyAttempt] = attempt
		log.Info("starting cycle", "attempt", attempt, "max", o.opts.MaxRetries)

		cycle := CycleRecord{Attempt: attempt}
		passed := true
		for _, stage := range o.stages {
			start := time.Now()
			res, err := stage.Run(ctx, t, workspace, pc.Clone())
			rec := StageRecord{Stage: stage.Name(), Duration: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				rec.Error = err.Error()
				cycle.Stages = append(cycle.Stages, rec)
				o.record(t.ID, attempt, cycle)
				return nil, o.fail(t.ID, fmt.Errorf("stage %s: %w", stage.Name(), err))
			}

			pc.Merge(res.ContextUpdates)
			rec.Success = res.Success
			if !res.Success {
				lastFeedback = res.Feedback()
				failedStage = stage.Name()
				rec.Feedback = lastFeedback
				pc[KeyFeedback] = lastFeedback
				pc[KeyFailedStage] = failedStage
				cycle.Stages = append(cycle.Stages, rec)
				log.Warn("stage rejected work", "stage", stage.Name(), "attempt", attempt, "feedback", len(lastFeedback))
				passed = false
				break
			}
			cycle.Stages = append(cycle.Stages, rec)
			log.Debug("stage passed", "stage", stage.Name(), "attempt", attempt)
		}
		o.record(t.ID, attempt, cycle)

		if passed {
			log.Info("pipeline succeeded", "attempt", attempt)
			if err := o.complete(t.ID); err != nil {
				return nil, err
			}
			return &Outcome{Success: true, Attempts: attempt, Context: pc}, nil
		}
	}

	attempts := max(o.opts.MaxRetries, first-1)
	log.Warn("retry budget exceeded", "max", o.opts.MaxRetries, "failed_stage", failedStage)
	if o.opts.Store != nil {
		_ = o.opts.Store.Update(t.ID, func(r *RunRecord) {
			r.Status = StatusFailed
			r.Feedback = lastFeedback
			r.FailedStage = failedStage
		})
	}
	return &Outcome{
		Attempts:    attempts,
		Feedback:    lastFeedback,
		FailedStage: failedStage,
		Context:     pc,
	}, nil
}

func (o *Orchestrator) seed(ctx context.Context, t task.Task, workspace string) (Context, error) {
	pc := Context{}
	pc.Merge(o.opts.Seed)

	rules, err := CollectRules(ctx, workspace, o.opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("collect rules: %w", err)
	}
	if rules == nil {
		rules = []string{}
	}
	pc[KeyGlobalRules] = rules

	completed := append([]string{}, o.opts.Completed...)
	if o.opts.Store != nil {
		stored, err := o.opts.Store.Completed()
		if err != nil {
			return nil, err
		}
		for _, id := range stored {
			if !slices.Contains(completed, id) {
				completed = append(completed, id)
			}
		}
	}
	pc[KeyCompletedTasks] = completed
	return pc, nil
}

// begin opens the run record and returns the first attempt to run along
// with the feedback that attempt starts from.
func (o *Orchestrator) begin(t task.Task, workspace string) (int, []string, string, error) {
	if o.opts.Store == nil {
		return 1, nil, "", nil
	}
	if o.opts.Resume {
		rec, err := o.opts.Store.Get(t.ID)
		if err == nil && rec.Interrupted() {
			err := o.opts.Store.Update(t.ID, func(r *RunRecord) {
				r.Workspace = workspace
				r.Status = StatusInProgress
				r.Error = ""
			})
			if err != nil {
				return 0, nil, "", err
			}
			return rec.NextAttempt(), rec.Feedback, rec.FailedStage, nil
		}
	}
	if _, err := o.opts.Store.Begin(t, workspace); err != nil {
		return 0, nil, "", err
	}
	return 1, nil, "", nil
}

func (o *Orchestrator) record(taskID string, attempt int, cycle CycleRecord) {
	if o.opts.Store == nil {
		return
	}
	err := o.opts.Store.Update(taskID, func(r *RunRecord) {
		r.Attempts = attempt
		r.Cycles = append(r.Cycles, cycle)
		if n := len(cycle.Stages); n > 0 {
			if last := cycle.Stages[n-1]; !last.Success && last.Error == "" {
				r.Feedback = last.Feedback
				r.FailedStage = last.Stage
			}
		}
	})
	if err != nil {
		o.log.Warn("failed to record cycle", "task", taskID, "error", err)
	}
}

func (o *Orchestrator) complete(taskID string) error {
	if o.opts.Store == nil {
		return nil
	}
	err := o.opts.Store.Update(taskID, func(r *RunRecord) {
		r.Status = StatusCompleted
		r.Feedback = nil
		r.FailedStage = ""
	})
	if err != nil {
		return err
	}
	return o.opts.Store.MarkCompleted(taskID)
}

func (o *Orchestrator) fail(taskID string, err error) error {
	if o.opts.Store != nil {
		_ = o.opts.Store.Update(taskID, func(r *RunRecord) {
			r.Status = StatusFailed
			r.Error = err.Error()
		})
	}
	return err
}
