package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

const planReply = "Here is the plan:\n```json\n[\n" +
	"  // storage first\n" +
	"  {\"task_id\": \"S1-T1\", \"title\": \"Add store\", \"acceptance_criteria\": [\"saves\"]},\n" +
	"  {\"task_id\": \"S1-T2\", \"title\": \"Add handler\", \"dependencies\": [\"S1-T1\"]},\n" +
	"]\n```\nfinish"

func story() task.Task {
	return task.Task{ID: "S1", Kind: task.KindStory, Title: "Notes API", Description: "CRUD for notes"}
}

func readOnly(t *testing.T) (string, *toolbox.Toolset) {
	t.Helper()
	ws, ts := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "main.go"), []byte("package main\n"), 0o644))
	return ws, ts.Restrict(toolbox.ReadOnlyTools...)
}

func TestExtractPlan(t *testing.T) {
	tasks, err := ExtractPlan(planReply)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "S1-T1", tasks[0].ID)
	assert.Equal(t, task.KindTask, tasks[1].Kind)
	assert.Equal(t, []string{"S1-T1"}, tasks[1].Dependencies)

	bare, err := ExtractPlan(`[{"id":"X","title":"bare"}]`)
	require.NoError(t, err)
	assert.Equal(t, "X", bare[0].ID)

	_, err = ExtractPlan("no plan here")
	assert.ErrorIs(t, err, ErrNoPlan)

	_, err = ExtractPlan("```json\n[]\n```")
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestPlanner_ExploresThenPlans(t *testing.T) {
	ws, ts := readOnly(t)
	mock := provider.NewMock(
		provider.ToolStep("looking around", toolbox.ToolListFiles, map[string]string{"directory": ""}),
		provider.Response{Content: planReply},
	)
	p := NewPlanner(mock, ts, PlannerOptions{})

	res, err := p.Run(context.Background(), story(), ws, pipeline.Context{})
	require.NoError(t, err)
	require.True(t, res.Success)

	tasks, ok := res.ContextUpdates[pipeline.KeyGeneratedTasks].([]task.Task)
	require.True(t, ok)
	assert.Len(t, tasks, 2)
	assert.Contains(t, mock.Prompts[0], "Story S1: Notes API")
	assert.Contains(t, mock.Prompts[1], "main.go")
}

func TestPlanner_CannotWrite(t *testing.T) {
	ws, ts := readOnly(t)
	mock := provider.NewMock(
		provider.ToolStep("", toolbox.ToolWriteFile, map[string]string{"path": "x.txt", "content": "x"}),
		provider.Response{Content: planReply},
	)
	p := NewPlanner(mock, ts, PlannerOptions{})

	_, err := p.Plan(context.Background(), story(), ws, pipeline.Context{})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(ws, "x.txt"))
	assert.Contains(t, mock.Prompts[1], "unknown tool: write_file")
}

func TestPlanner_BudgetForcesPlan(t *testing.T) {
	ws, ts := readOnly(t)
	steps := make([]provider.Response, 0, 3)
	for range 2 {
		steps = append(steps, provider.ToolStep("", toolbox.ToolListFiles, map[string]string{}))
	}
	steps = append(steps, provider.Response{Content: planReply})
	mock := provider.NewMock(steps...)
	p := NewPlanner(mock, ts, PlannerOptions{MaxToolCalls: 2})

	tasks, err := p.Plan(context.Background(), story(), ws, pipeline.Context{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	require.Len(t, mock.Prompts, 3)
	assert.Contains(t, mock.Prompts[2], "exploration budget is used up")
}

func TestPlanner_NoPlanIsRejection(t *testing.T) {
	ws, ts := readOnly(t)
	mock := provider.NewMock()
	p := NewPlanner(mock, ts, PlannerOptions{})

	res, err := p.Run(context.Background(), story(), ws, pipeline.Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{ErrNoPlan.Error()}, res.Feedback())
	assert.Len(t, mock.Prompts, 2)
}
