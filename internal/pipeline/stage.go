package pipeline

import (
	"context"

	"github.com/lucasnoah/ada/internal/task"
)

// Stage is one step of the pipeline. A rejection is reported through
// StageResult.Success; the error return is for failures that should abort
// the run.
type Stage interface {
	Name() string
	Run(ctx context.Context, t task.Task, workspace string, pc Context) (StageResult, error)
}

// StageResult is a stage's verdict.
type StageResult struct {
	Success        bool
	Output         any
	ContextUpdates map[string]any
}

// Feedback interprets Output as the feedback for the next cycle: a single
// message or an ordered list of messages.
func (r StageResult) Feedback() []string {
	fb := toStrings(r.Output)
	if fb == nil {
		return []string{}
	}
	return fb
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, t task.Task, workspace string, pc Context) (StageResult, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context, t task.Task, workspace string, pc Context) (StageResult, error) {
	return s.Fn(ctx, t, workspace, pc)
}
