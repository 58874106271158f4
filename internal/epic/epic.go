// Package epic turns user stories into tasks and runs them one after the
// other, each in its own isolated backend.
package epic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lucasnoah/ada/internal/fsutil"
	"github.com/lucasnoah/ada/internal/isolation"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/task"
)

const DefaultTasksDir = "tasks"

// Planner breaks a story into tasks. *agent.Planner implements it.
type Planner interface {
	Plan(ctx context.Context, story task.Task, workspace string, pc pipeline.Context) ([]task.Task, error)
}

// PlannerFactory returns the planner for one story.
type PlannerFactory func(story task.Task) (Planner, error)

// BackendFactory returns a fresh backend for one task. completed holds the
// IDs finished so far in this epic.
type BackendFactory func(t task.Task, completed []string) (isolation.Backend, error)

// Options configures a Runner.
type Options struct {
	TasksDir string
	Rules    []pipeline.RuleProvider
	Logger   *slog.Logger
}

// StoryReport records what happened to one story.
type StoryReport struct {
	StoryID    string   `json:"story_id"`
	TaskFiles  []string `json:"task_files"`
	Completed  []string `json:"completed"`
	FailedTask string   `json:"failed_task,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Report is the result of an epic run.
type Report struct {
	Success   bool          `json:"success"`
	Stories   []StoryReport `json:"stories"`
	Completed []string      `json:"completed"`
}

// Runner plans and executes stories against one repository.
type Runner struct {
	planners PlannerFactory
	backends BackendFactory
	opts     Options
	log      *slog.Logger
}

func New(planners PlannerFactory, backends BackendFactory, opts Options) *Runner {
	if opts.TasksDir == "" {
		opts.TasksDir = DefaultTasksDir
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{planners: planners, backends: backends, opts: opts, log: log}
}

// Run executes stories in order. It stops at the first story that cannot
// be planned or whose task fails; later stories are not attempted.
func (r *Runner) Run(ctx context.Context, stories []task.Task, repo string) (*Report, error) {
	report := &Report{Completed: []string{}}
	r.log.Info("analyzing backlog", "stories", len(stories))

	for _, story := range stories {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr := StoryReport{StoryID: story.ID, Completed: []string{}}
		log := r.log.With("story", story.ID)
		log.Info("planning story", "title", story.Title)

		files, err := r.planAndPersist(ctx, story, repo)
		if err != nil {
			sr.Error = err.Error()
			report.Stories = append(report.Stories, sr)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			log.Error("planning failed, aborting", "error", err)
			return report, nil
		}
		sr.TaskFiles = files

		for _, file := range files {
			t, err := task.Load(file)
			if err != nil {
				log.Error("could not load task file, skipping", "file", file, "error", err)
				continue
			}
			ok, err := r.runTask(ctx, t, repo, report.Completed)
			if err != nil || !ok {
				sr.FailedTask = t.ID
				if err != nil {
					sr.Error = err.Error()
				}
				report.Stories = append(report.Stories, sr)
				log.Error("task failed, aborting story", "task", t.ID, "error", err)
				return report, ctx.Err()
			}
			sr.Completed = append(sr.Completed, t.ID)
			report.Completed = append(report.Completed, t.ID)
		}
		report.Stories = append(report.Stories, sr)
		log.Info("story complete", "tasks", len(sr.Completed))
	}

	report.Success = true
	r.log.Info("all stories complete", "tasks", len(report.Completed))
	return report, nil
}

func (r *Runner) planAndPersist(ctx context.Context, story task.Task, repo string) ([]string, error) {
	planner, err := r.planners(story)
	if err != nil {
		return nil, fmt.Errorf("build planner: %w", err)
	}
	rules, err := pipeline.CollectRules(ctx, repo, r.opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("collect rules: %w", err)
	}
	tasks, err := planner.Plan(ctx, story, repo, pipeline.Context{
		pipeline.KeyGlobalRules: rules,
		pipeline.KeyAttempt:     1,
	})
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(r.opts.TasksDir, story.Slug())
	files := make([]string, 0, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = fmt.Sprintf("task_%d", i+1)
		}
		path := filepath.Join(dir, t.Slug()+".json")
		if err := fsutil.WriteJSON(path, t); err != nil {
			return nil, fmt.Errorf("save task %s: %w", t.ID, err)
		}
		r.log.Info("saved task", "story", story.ID, "task", t.ID, "path", path)
		files = append(files, path)
	}
	return files, nil
}

func (r *Runner) runTask(ctx context.Context, t task.Task, repo string, completed []string) (ok bool, err error) {
	backend, err := r.backends(t, append([]string(nil), completed...))
	if err != nil {
		return false, fmt.Errorf("build backend: %w", err)
	}
	defer func() {
		if cerr := backend.Cleanup(); cerr != nil {
			r.log.Warn("cleanup failed", "task", t.ID, "error", cerr)
		}
	}()

	r.log.Info("running task", "task", t.ID, "title", t.Title, "backend", backend.Name())
	if err := backend.Setup(ctx, t, repo); err != nil {
		return false, fmt.Errorf("setup: %w", err)
	}
	return backend.Execute(ctx, t, repo)
}
