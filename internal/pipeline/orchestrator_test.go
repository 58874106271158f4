package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/ada/internal/task"
)

// scriptedStage returns results in order and records the context it saw.
type scriptedStage struct {
	name    string
	results []StageResult
	err     error
	seen    []Context
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Run(_ context.Context, _ task.Task, _ string, pc Context) (StageResult, error) {
	s.seen = append(s.seen, pc)
	if s.err != nil {
		return StageResult{}, s.err
	}
	i := len(s.seen) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

var demoTask = task.Task{ID: "T-1", Title: "Add login"}

func pass() StageResult { return StageResult{Success: true} }

func TestRun_TwoStageRetry(t *testing.T) {
	coder := &scriptedStage{name: "coder", results: []StageResult{pass()}}
	validator := &scriptedStage{name: "validator", results: []StageResult{
		{Success: false, Output: []string{"tests fail", "lint fails"}},
		pass(),
	}}

	out, err := New([]Stage{coder, validator}, Options{}).Run(context.Background(), demoTask, t.TempDir())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, coder.seen, 2)
	require.Len(t, validator.seen, 2)

	assert.Nil(t, coder.seen[0][KeyFeedback])
	assert.Equal(t, []string{"tests fail", "lint fails"}, coder.seen[1][KeyFeedback])
	assert.Equal(t, "validator", coder.seen[1][KeyFailedStage])
	assert.Equal(t, 1, coder.seen[0][KeyAttempt])
	assert.Equal(t, 2, coder.seen[1][KeyAttempt])
}

func TestRun_AlwaysFailingFirstStage(t *testing.T) {
	for _, retries := range []int{1, 3, 5} {
		first := &scriptedStage{name: "coder", results: []StageResult{{Success: false, Output: "nope"}}}
		second := &scriptedStage{name: "validator", results: []StageResult{pass()}}

		out, err := New([]Stage{first, second}, Options{MaxRetries: retries}).Run(context.Background(), demoTask, t.TempDir())
		require.NoError(t, err)

		assert.False(t, out.Success)
		assert.Equal(t, retries, out.Attempts)
		assert.Equal(t, []string{"nope"}, out.Feedback)
		assert.Equal(t, "coder", out.FailedStage)
		assert.Len(t, first.seen, retries)
		assert.Empty(t, second.seen)
	}
}

func TestRun_DefaultRetries(t *testing.T) {
	s := &scriptedStage{name: "x", results: []StageResult{{Success: false}}}
	out, err := New([]Stage{s}, Options{}).Run(context.Background(), demoTask, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, out.Attempts)
	assert.Equal(t, []string{}, out.Feedback)
}

func TestRun_ContextContents(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "rules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "rules", "style.md"), []byte("use tabs\n"), 0o644))

	first := &scriptedStage{name: "a", results: []StageResult{
		{Success: true, ContextUpdates: map[string]any{"plan": "v1", "shared": "a"}},
	}}
	second := &scriptedStage{name: "b", results: []StageResult{
		{Success: false, Output: errors.New("bad"), ContextUpdates: map[string]any{"shared": "b"}},
		pass(),
	}}

	out, err := New([]Stage{first, second}, Options{
		Rules:     []RuleProvider{FolderRules{}, StaticRules{"no globals"}},
		Completed: []string{"T-0"},
		Seed:      map[string]any{KeyCheckpointPath: "/cp.json"},
	}).Run(context.Background(), demoTask, ws)
	require.NoError(t, err)
	require.True(t, out.Success)

	assert.Equal(t, Context{
		KeyGlobalRules:    []string{"Rule from style.md:\nuse tabs", "no globals"},
		KeyCompletedTasks: []string{"T-0"},
		KeyCheckpointPath: "/cp.json",
		KeyAttempt:        2,
		KeyFeedback:       []string{"bad"},
		KeyFailedStage:    "b",
		"plan":            "v1",
		"shared":          "a",
	}, out.Context)

	// b saw a's update from the same cycle.
	assert.Equal(t, "a", second.seen[1]["shared"])
	assert.Equal(t, "b", first.seen[1]["shared"])
}

func TestRun_StagesGetClones(t *testing.T) {
	mutator := StageFunc{StageName: "mutator", Fn: func(_ context.Context, _ task.Task, _ string, pc Context) (StageResult, error) {
		pc["leak"] = true
		return pass(), nil
	}}
	observer := &scriptedStage{name: "observer", results: []StageResult{pass()}}

	out, err := New([]Stage{mutator, observer}, Options{}).Run(context.Background(), demoTask, t.TempDir())
	require.NoError(t, err)
	assert.NotContains(t, observer.seen[0], "leak")
	assert.NotContains(t, out.Context, "leak")
}

func TestRun_StageErrorPropagates(t *testing.T) {
	boom := errors.New("provider down")
	bad := &scriptedStage{name: "coder", err: boom}
	next := &scriptedStage{name: "validator", results: []StageResult{pass()}}
	store := NewStore(t.TempDir())

	_, err := New([]Stage{bad, next}, Options{Store: store}).Run(context.Background(), demoTask, t.TempDir())
	require.ErrorIs(t, err, boom)
	assert.Len(t, bad.seen, 1)
	assert.Empty(t, next.seen)

	rec, err := store.Get(demoTask.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "provider down")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedStage{name: "x", results: []StageResult{pass()}}
	_, err := New([]Stage{s}, Options{}).Run(ctx, demoTask, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.seen)
}

func TestRun_RecordsHistoryAndCompletion(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.MarkCompleted("T-0"))

	coder := &scriptedStage{name: "coder", results: []StageResult{pass()}}
	validator := &scriptedStage{name: "validator", results: []StageResult{{Success: false, Output: "x"}, pass()}}

	out, err := New([]Stage{coder, validator}, Options{Store: store}).Run(context.Background(), demoTask, "/ws")
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, []string{"T-0"}, coder.seen[0][KeyCompletedTasks])

	rec, err := store.Get(demoTask.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	require.Len(t, rec.Cycles, 2)
	assert.Equal(t, []string{"x"}, rec.Cycles[0].Stages[1].Feedback)
	assert.True(t, rec.Cycles[1].Stages[1].Success)

	done, err := store.Completed()
	require.NoError(t, err)
	assert.Equal(t, []string{"T-0", "T-1"}, done)
}

func TestRun_ResumesInterruptedCycle(t *testing.T) {
	store := NewStore(t.TempDir())

	// First run: cycle 1 is rejected, cycle 2 is cut short.
	calls := 0
	coder := StageFunc{StageName: "coder", Fn: func(context.Context, task.Task, string, Context) (StageResult, error) {
		calls++
		if calls == 2 {
			return StageResult{}, context.Canceled
		}
		return pass(), nil
	}}
	validator := &scriptedStage{name: "validator", results: []StageResult{{Success: false, Output: "tests fail"}}}
	_, err := New([]Stage{coder, validator}, Options{Store: store}).Run(context.Background(), demoTask, "/ws")
	require.ErrorIs(t, err, context.Canceled)

	rec, err := store.Get(demoTask.ID)
	require.NoError(t, err)
	assert.True(t, rec.Interrupted())
	assert.Equal(t, 2, rec.NextAttempt())

	// Second run picks up cycle 2 with cycle 1's feedback.
	coder2 := &scriptedStage{name: "coder", results: []StageResult{pass()}}
	validator2 := &scriptedStage{name: "validator", results: []StageResult{pass()}}
	out, err := New([]Stage{coder2, validator2}, Options{Store: store, Resume: true}).Run(context.Background(), demoTask, "/ws")
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, coder2.seen, 1)
	assert.Equal(t, 2, coder2.seen[0][KeyAttempt])
	assert.Equal(t, []string{"tests fail"}, coder2.seen[0][KeyFeedback])
	assert.Equal(t, "validator", coder2.seen[0][KeyFailedStage])

	rec, err = store.Get(demoTask.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Empty(t, rec.Error)
	assert.Len(t, rec.Cycles, 3)
}

func TestRun_ResumeIgnoresFinishedRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	failing := &scriptedStage{name: "coder", results: []StageResult{{Success: false, Output: "no"}}}
	_, err := New([]Stage{failing}, Options{Store: store, MaxRetries: 2}).Run(context.Background(), demoTask, "/ws")
	require.NoError(t, err)

	s := &scriptedStage{name: "coder", results: []StageResult{pass()}}
	out, err := New([]Stage{s}, Options{Store: store, Resume: true}).Run(context.Background(), demoTask, "/ws")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Nil(t, s.seen[0][KeyFeedback])
}

func TestStageResult_Feedback(t *testing.T) {
	cases := []struct {
		out  any
		want []string
	}{
		{nil, []string{}},
		{"", []string{}},
		{"one", []string{"one"}},
		{errors.New("err"), []string{"err"}},
		{[]string{"a", "b"}, []string{"a", "b"}},
		{[]any{"a", 2}, []string{"a", "2"}},
		{fmtStringer("s"), []string{"s"}},
		{42, []string{"42"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StageResult{Output: tc.out}.Feedback(), "%#v", tc.out)
	}
}

type fmtStringer string

func (f fmtStringer) String() string { return string(f) }
