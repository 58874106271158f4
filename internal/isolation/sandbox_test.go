package isolation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/ada/internal/checkpoint"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

func writeRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "pkg", "old.go"), []byte("package pkg\n"), 0o644))
	return repo
}

// editingFactory builds a one-stage pipeline that edits through the
// workspace toolset.
func editingFactory(seen *[]Workspace, success bool) PipelineFactory {
	return func(ws Workspace) (*pipeline.Orchestrator, error) {
		*seen = append(*seen, ws)
		stage := pipeline.StageFunc{StageName: "edit", Fn: func(ctx context.Context, _ task.Task, _ string, _ pipeline.Context) (pipeline.StageResult, error) {
			args, _ := json.Marshal(map[string]string{"path": "pkg/new.go", "content": "package pkg // new\n"})
			if res := ws.Tools.Call(ctx, toolbox.Call{Name: toolbox.ToolWriteFile, Arguments: args}); !res.Success {
				return pipeline.StageResult{}, assert.AnError
			}
			return pipeline.StageResult{Success: success, Output: "rejected"}, nil
		}}
		return pipeline.New([]pipeline.Stage{stage}, pipeline.Options{MaxRetries: 1}), nil
	}
}

func TestSandbox_ReconcilesBeforeCleanup(t *testing.T) {
	repo := writeRepo(t)
	var seen []Workspace
	sb, err := NewSandbox(SandboxOptions{Root: t.TempDir(), Factory: editingFactory(&seen, true)})
	require.NoError(t, err)

	tk := task.Task{ID: "T 1", Title: "edit"}
	ctx := context.Background()
	require.NoError(t, sb.Setup(ctx, tk, repo))
	assert.Equal(t, "task_"+tk.Slug(), filepath.Base(sb.Dir()))
	assert.True(t, strings.HasPrefix(filepath.Base(sb.Dir()), "task_T-1-"))
	assert.FileExists(t, filepath.Join(sb.Dir(), "repo", "README.md"))

	ok, err := sb.Execute(ctx, tk, repo)
	require.NoError(t, err)
	assert.True(t, ok)

	// Source repo carries the edit while the sandbox still exists.
	assert.DirExists(t, sb.Dir())
	assert.FileExists(t, filepath.Join(repo, "pkg", "new.go"))
	assert.FileExists(t, filepath.Join(repo, "pkg", "old.go"))
	assert.Contains(t, sb.Reconciled().Unchanged, "README.md")
	assert.Contains(t, sb.Reconciled().Replaced, "pkg")

	require.Len(t, seen, 1)
	assert.Equal(t, filepath.Join(sb.Dir(), "repo"), seen[0].Dir)
	assert.Equal(t, filepath.Join(sb.Dir(), "checkpoints", "T-1-coder.json"), seen[0].CheckpointPath)

	dir := sb.Dir()
	require.NoError(t, sb.Cleanup())
	assert.NoDirExists(t, dir)
	require.NoError(t, sb.Cleanup())
}

func TestSandbox_FailedOutcomeStillReconciles(t *testing.T) {
	repo := writeRepo(t)
	var seen []Workspace
	sb, err := NewSandbox(SandboxOptions{Root: t.TempDir(), Factory: editingFactory(&seen, false)})
	require.NoError(t, err)
	tk := task.Task{ID: "T2", Title: "edit"}

	require.NoError(t, sb.Setup(context.Background(), tk, repo))
	ok, err := sb.Execute(context.Background(), tk, repo)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"rejected"}, sb.Outcome().Feedback)
	assert.FileExists(t, filepath.Join(repo, "pkg", "new.go"))
}

func TestSandbox_ExecuteBeforeSetup(t *testing.T) {
	var seen []Workspace
	sb, err := NewSandbox(SandboxOptions{Root: t.TempDir(), Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	_, err = sb.Execute(context.Background(), task.Task{ID: "x", Title: "x"}, t.TempDir())
	assert.ErrorIs(t, err, ErrNotSetUp)
	assert.Empty(t, seen)
}

func TestSandbox_RootInsideRepo(t *testing.T) {
	repo := writeRepo(t)
	var seen []Workspace
	sb, err := NewSandbox(SandboxOptions{Root: filepath.Join(repo, ".ada_sandbox"), Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	tk := task.Task{ID: "T3", Title: "edit"}

	require.NoError(t, sb.Setup(context.Background(), tk, repo))
	assert.NoDirExists(t, filepath.Join(sb.Dir(), "repo", ".ada_sandbox"))

	_, err = sb.Execute(context.Background(), tk, repo)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo, "pkg", "new.go"))
	require.NoError(t, sb.Cleanup())
}

func TestSandbox_RootInsideRepoSubdirectory(t *testing.T) {
	repo := writeRepo(t)
	root := filepath.Join(repo, "pkg", "sandbox")
	var seen []Workspace
	sb, err := NewSandbox(SandboxOptions{Root: root, Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	tk := task.Task{ID: "T5", Title: "edit"}

	require.NoError(t, sb.Setup(context.Background(), tk, repo))
	ok, err := sb.Execute(context.Background(), tk, repo)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.FileExists(t, filepath.Join(repo, "pkg", "old.go"))
	assert.FileExists(t, filepath.Join(repo, "pkg", "new.go"))
	assert.DirExists(t, sb.Dir(), "the live workspace survives reconcile")
	assert.Contains(t, sb.Reconciled().Merged, "pkg")

	require.NoError(t, sb.Cleanup())
	assert.FileExists(t, filepath.Join(repo, "pkg", "old.go"))
}

func TestSandbox_InterruptedRunKeepsCheckpoint(t *testing.T) {
	repo := writeRepo(t)
	root := t.TempDir()
	tk := task.Task{ID: "T6", Title: "edit"}
	var cpPath string
	crashing := func(ws Workspace) (*pipeline.Orchestrator, error) {
		cpPath = ws.CheckpointPath
		stage := pipeline.StageFunc{StageName: "coder", Fn: func(context.Context, task.Task, string, pipeline.Context) (pipeline.StageResult, error) {
			if err := checkpoint.Save(ws.CheckpointPath, checkpoint.Checkpoint{ToolCallCount: 5, Attempt: 1}); err != nil {
				return pipeline.StageResult{}, err
			}
			return pipeline.StageResult{}, context.Canceled
		}}
		return pipeline.New([]pipeline.Stage{stage}, pipeline.Options{MaxRetries: 1}), nil
	}

	sb, err := NewSandbox(SandboxOptions{Root: root, Resume: true, Factory: crashing})
	require.NoError(t, err)
	require.NoError(t, sb.Setup(context.Background(), tk, repo))
	_, err = sb.Execute(context.Background(), tk, repo)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sb.Cleanup())
	assert.FileExists(t, cpPath)

	// Without resume there is nothing to come back to.
	plain, err := NewSandbox(SandboxOptions{Root: root, Factory: crashing})
	require.NoError(t, err)
	require.NoError(t, plain.Setup(context.Background(), tk, repo))
	_, err = plain.Execute(context.Background(), tk, repo)
	require.Error(t, err)
	dir := plain.Dir()
	require.NoError(t, plain.Cleanup())
	assert.NoDirExists(t, dir)
}

func TestSandbox_ResumeReusesWorkspace(t *testing.T) {
	repo := writeRepo(t)
	root := t.TempDir()
	var seen []Workspace
	tk := task.Task{ID: "T4", Title: "edit"}

	first, err := NewSandbox(SandboxOptions{Root: root, Resume: true, Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	require.NoError(t, first.Setup(context.Background(), tk, repo))
	marker := filepath.Join(first.Dir(), "repo", "in-progress.txt")
	require.NoError(t, os.WriteFile(marker, []byte("partial"), 0o644))
	cpPath := checkpoint.Path(filepath.Join(first.Dir(), "checkpoints"), tk.Slug(), "coder")
	require.NoError(t, checkpoint.Save(cpPath, checkpoint.Checkpoint{ToolCallCount: 5, Attempt: 1}))

	second, err := NewSandbox(SandboxOptions{Root: root, Resume: true, Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	require.NoError(t, second.Setup(context.Background(), tk, repo))
	assert.FileExists(t, marker)

	_, err = second.Execute(context.Background(), tk, repo)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Resumed)
	assert.Equal(t, cpPath, seen[0].CheckpointPath)

	third, err := NewSandbox(SandboxOptions{Root: root, Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	require.NoError(t, third.Setup(context.Background(), tk, repo))
	assert.NoFileExists(t, cpPath, "without resume the workspace is rebuilt")
}

func TestNew_Kinds(t *testing.T) {
	var seen []Workspace
	b, err := New(KindSandbox, Config{SandboxRoot: t.TempDir(), Factory: editingFactory(&seen, true)})
	require.NoError(t, err)
	assert.Equal(t, "sandbox", b.Name())

	b, err = New(KindDocker, Config{Runner: &fakeDocker{}})
	require.NoError(t, err)
	assert.Equal(t, "docker", b.Name())

	_, err = New("vm", Config{})
	assert.ErrorContains(t, err, `unknown backend "vm"`)

	_, err = New(KindSandbox, Config{})
	assert.Error(t, err)
}
