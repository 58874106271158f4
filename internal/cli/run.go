package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ada/internal/checkpoint"
	"github.com/lucasnoah/ada/internal/isolation"
	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

var errTaskFailed = errors.New("task failed")

var (
	runBackend    string
	runMock       bool
	runKeep       bool
	runMaxRetries int
	runJobsDB     string
	batchWorkers  int
)

var runCmd = &cobra.Command{
	Use:   "run <task_file> <repo_path>",
	Short: "Run one task in an isolated backend and record it as a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := task.Load(args[0])
		if err != nil {
			return err
		}
		repo, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		applyRunFlags(cmd)
		if err := checkConfig(app.cfg); err != nil {
			return err
		}

		store, err := openJobs(ctx, app.cfg, runJobsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		d := newDispatcher(store)
		j, err := d.Enqueue(ctx, t, app.cfg.Backend, repo)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s: task %s on %s backend\n", j.ID, t.ID, app.cfg.Backend)

		ok, err := d.Run(ctx, j, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s: %w", j.ID, errTaskFailed)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s succeeded.\n", j.ID)
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <repo_path> <task_file>...",
	Short: "Run independent tasks concurrently, each in its own backend",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		applyRunFlags(cmd)
		if err := checkConfig(app.cfg); err != nil {
			return err
		}
		if !cmd.Flags().Changed("concurrency") {
			batchWorkers = app.cfg.Jobs.Concurrency
		}

		var tasks []task.Task
		for _, path := range args[1:] {
			t, err := task.Load(path)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}

		store, err := openJobs(ctx, app.cfg, runJobsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		d := newDispatcher(store)
		items := make([]jobs.Item, 0, len(tasks))
		for _, t := range tasks {
			j, err := d.Enqueue(ctx, t, app.cfg.Backend, repo)
			if err != nil {
				return err
			}
			items = append(items, jobs.Item{Job: j, Task: t})
		}

		results, err := jobs.NewPool(d, batchWorkers, app.log).RunAll(ctx, items)
		failed := 0
		for _, r := range results {
			status := "ok"
			switch {
			case r.Err != nil:
				status = "error: " + r.Err.Error()
				failed++
			case !r.Success:
				status = "failed"
				failed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-20s  %s\n", r.JobID, r.TaskID, status)
		}
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs: %w", failed, len(results), errTaskFailed)
		}
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:    "exec <task_file> <repo_path>",
	Short:  "Run the pipeline in place (container entrypoint)",
	Args:   cobra.ExactArgs(2),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := task.Load(args[0])
		if err != nil {
			return err
		}
		repo, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		applyRunFlags(cmd)
		if err := checkConfig(app.cfg); err != nil {
			return err
		}

		tools, err := toolbox.New(repo, toolOptions(app.cfg, app.log))
		if err != nil {
			return err
		}
		cpDir := filepath.Join(execStateDir(repo), "checkpoints")
		ws := isolation.Workspace{
			Task:           t,
			Dir:            repo,
			Tools:          tools,
			CheckpointPath: checkpoint.Path(cpDir, t.Slug(), "coder"),
			Resumed:        app.cfg.ResumeEnabled() && checkpoint.Exists(cpDir, t.Slug()),
		}
		orch, err := pipelineFactory(app.cfg, app.log, runMock, nil)(ws)
		if err != nil {
			return err
		}
		outcome, err := orch.Run(cmd.Context(), t, repo)
		if err != nil {
			// Checkpoints stay for the next exec against this repository.
			return err
		}
		clearExecState(repo)
		if !outcome.Success {
			return fmt.Errorf("%s after %d attempt(s) at %s: %w", t.ID, outcome.Attempts, outcome.FailedStage, errTaskFailed)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s completed after %d attempt(s).\n", t.ID, outcome.Attempts)
		return nil
	},
}

// execStateDir holds exec's checkpoints. Under the docker backend this is
// inside the bind-mounted repository.
func execStateDir(repo string) string {
	return filepath.Join(repo, ".ada")
}

// clearExecState removes exec's checkpoints once a run has finished. The
// state directory itself goes only when nothing else lives there.
func clearExecState(repo string) {
	dir := execStateDir(repo)
	if err := os.RemoveAll(filepath.Join(dir, "checkpoints")); err != nil {
		app.log.Warn("failed to remove checkpoints", "dir", dir, "error", err)
		return
	}
	_ = os.Remove(dir)
}

// applyRunFlags lets explicitly set flags override the configuration.
func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("backend") {
		app.cfg.Backend = runBackend
	}
	if f.Changed("max-retries") {
		app.cfg.MaxRetries = runMaxRetries
	}
	if f.Changed("keep-workspace") {
		app.cfg.Sandbox.KeepWorkspace = runKeep
	}
	runMock = runMock || app.cfg.Provider.Mock
}

func newDispatcher(store jobs.Store) *jobs.Dispatcher {
	backends := func(j *jobs.Job, t task.Task) (isolation.Backend, error) {
		return backendFor(j.Backend, app.cfg, app.log.With("job", j.ID), runMock, nil)
	}
	return jobs.NewDispatcher(store, backends, jobs.DispatcherOptions{
		KeepWorkspace: app.cfg.Sandbox.KeepWorkspace,
		Logger:        app.log,
	})
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runBackend, "backend", isolation.KindSandbox, "isolation backend: sandbox or docker")
	cmd.Flags().BoolVar(&runMock, "mock", false, "use the scripted mock provider")
	cmd.Flags().BoolVar(&runKeep, "keep-workspace", false, "leave the isolated workspace in place")
	cmd.Flags().IntVar(&runMaxRetries, "max-retries", 3, "maximum pipeline cycles")
	cmd.Flags().StringVar(&runJobsDB, "jobs-db", "", "job store path or postgres:// DSN")
}

func init() {
	addRunFlags(runCmd)
	addRunFlags(batchCmd)
	batchCmd.Flags().IntVar(&batchWorkers, "concurrency", jobs.DefaultConcurrency, "jobs to run at once")

	execCmd.Flags().BoolVar(&runMock, "mock", false, "use the scripted mock provider")
	execCmd.Flags().IntVar(&runMaxRetries, "max-retries", 3, "maximum pipeline cycles")
}
