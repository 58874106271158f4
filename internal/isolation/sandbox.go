package isolation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lucasnoah/ada/internal/checkpoint"
	"github.com/lucasnoah/ada/internal/fsutil"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

// DefaultSandboxRoot is used when neither config nor ADA_TMP_DIR set one.
const DefaultSandboxRoot = ".ada_sandbox"

// SandboxOptions configures a SandboxBackend.
type SandboxOptions struct {
	Root    string
	Resume  bool
	Factory PipelineFactory
	Tools   toolbox.Options
	Logger  *slog.Logger
}

// SandboxBackend copies the repository into <root>/task_<slug>/repo, runs
// the pipeline against the copy and reconciles the result back.
type SandboxBackend struct {
	root    string
	resume  bool
	factory PipelineFactory
	tools   toolbox.Options
	log     *slog.Logger

	dir         string
	resumed     bool
	interrupted bool
	outcome *pipeline.Outcome
	report  *fsutil.ReconcileReport
}

func NewSandbox(opts SandboxOptions) (*SandboxBackend, error) {
	if opts.Factory == nil {
		return nil, errors.New("sandbox backend requires a pipeline factory")
	}
	root := opts.Root
	if root == "" {
		root = DefaultSandboxRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SandboxBackend{
		root:    abs,
		resume:  opts.Resume,
		factory: opts.Factory,
		tools:   opts.Tools,
		log:     log.With("backend", KindSandbox),
	}, nil
}

func (s *SandboxBackend) Name() string { return KindSandbox }

// Dir returns the task workspace directory, or "" before Setup.
func (s *SandboxBackend) Dir() string { return s.dir }

func (s *SandboxBackend) repoDir() string       { return filepath.Join(s.dir, "repo") }
func (s *SandboxBackend) checkpointDir() string { return filepath.Join(s.dir, "checkpoints") }

// Outcome returns the pipeline outcome of the last Execute.
func (s *SandboxBackend) Outcome() *pipeline.Outcome { return s.outcome }

// Reconciled returns what was copied back by the last Execute.
func (s *SandboxBackend) Reconciled() *fsutil.ReconcileReport { return s.report }

func (s *SandboxBackend) Setup(ctx context.Context, t task.Task, repo string) error {
	src, err := filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("resolve repo: %w", err)
	}
	if info, err := os.Stat(src); err != nil {
		return fmt.Errorf("stat repo: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("repo %s is not a directory", src)
	}
	s.dir = filepath.Join(s.root, "task_"+t.Slug())
	s.resumed = false
	s.interrupted = false
	log := s.log.With("task", t.ID)

	if s.resume && checkpoint.Exists(s.checkpointDir(), t.Slug()) {
		if info, err := os.Stat(s.repoDir()); err == nil && info.IsDir() {
			s.resumed = true
			log.Info("reusing interrupted workspace", "dir", s.dir)
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(s.checkpointDir(), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	// The sandbox root may live inside the repository it copies.
	if err := fsutil.CopyTreeExcept(src, s.repoDir(), s.root); err != nil {
		return fmt.Errorf("copy repo: %w", err)
	}
	log.Info("workspace created", "dir", s.dir)
	return nil
}

func (s *SandboxBackend) Execute(ctx context.Context, t task.Task, repo string) (bool, error) {
	if s.dir == "" {
		return false, ErrNotSetUp
	}
	log := s.log.With("task", t.ID)

	opts := s.tools
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	tools, err := toolbox.New(s.repoDir(), opts)
	if err != nil {
		return false, err
	}
	ws := Workspace{
		Task:           t,
		Dir:            s.repoDir(),
		Tools:          tools,
		CheckpointPath: checkpoint.Path(s.checkpointDir(), t.Slug(), "coder"),
		Resumed:        s.resumed,
	}
	orch, err := s.factory(ws)
	if err != nil {
		return false, fmt.Errorf("build pipeline: %w", err)
	}

	log.Info("executing task", "title", t.Title, "stages", orch.Stages())
	outcome, err := orch.Run(ctx, t, ws.Dir)
	if err != nil {
		s.interrupted = true
		return false, err
	}
	s.outcome = outcome

	dst, err := filepath.Abs(repo)
	if err != nil {
		return false, fmt.Errorf("resolve repo: %w", err)
	}
	report, err := fsutil.ReconcileExcept(ws.Dir, dst, s.root)
	if err != nil {
		return false, fmt.Errorf("reconcile: %w", err)
	}
	s.report = report
	log.Info("results copied back",
		"copied", len(report.Copied), "replaced", len(report.Replaced),
		"merged", len(report.Merged), "unchanged", len(report.Unchanged))
	return outcome.Success, nil
}

// Cleanup removes the workspace. A run that stopped with an error keeps its
// workspace and checkpoints when resume is enabled so the next Setup can
// pick it up.
func (s *SandboxBackend) Cleanup() error {
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	if s.interrupted && s.resume {
		s.log.Info("workspace kept for resume", "dir", dir)
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	s.log.Debug("workspace removed", "dir", dir)
	return nil
}
