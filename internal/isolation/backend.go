// Package isolation runs a task's pipeline somewhere the source repository
// cannot be damaged: a copied sandbox on the host or a container.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/shell"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

var (
	ErrNotSetUp           = errors.New("backend not set up")
	ErrBackendUnavailable = errors.New("isolation backend unavailable")
)

// Backend kinds accepted by New.
const (
	KindSandbox = "sandbox"
	KindDocker  = "docker"
)

// Backend prepares an isolated environment for one task, runs it there and
// tears it down. Cleanup is safe to call more than once.
type Backend interface {
	Name() string
	Setup(ctx context.Context, t task.Task, repo string) error
	Execute(ctx context.Context, t task.Task, repo string) (bool, error)
	Cleanup() error
}

// Workspace describes the isolated copy a pipeline runs against.
type Workspace struct {
	Task           task.Task
	Dir            string
	Tools          *toolbox.Toolset
	CheckpointPath string
	Resumed        bool
}

// PipelineFactory builds the orchestrator for a prepared workspace.
type PipelineFactory func(ws Workspace) (*pipeline.Orchestrator, error)

// Config selects and tunes a backend.
type Config struct {
	SandboxRoot string
	Resume      bool
	Factory     PipelineFactory
	Tools       toolbox.Options
	Docker      DockerOptions
	Runner      shell.Runner
	Logger      *slog.Logger
}

// New returns the backend named by kind.
func New(kind string, cfg Config) (Backend, error) {
	switch kind {
	case KindSandbox, "":
		return NewSandbox(SandboxOptions{
			Root:    cfg.SandboxRoot,
			Resume:  cfg.Resume,
			Factory: cfg.Factory,
			Tools:   cfg.Tools,
			Logger:  cfg.Logger,
		})
	case KindDocker:
		opts := cfg.Docker
		if opts.Runner == nil {
			opts.Runner = cfg.Runner
		}
		if opts.Logger == nil {
			opts.Logger = cfg.Logger
		}
		return NewDocker(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", kind, KindSandbox, KindDocker)
	}
}
