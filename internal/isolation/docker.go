package isolation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/ada/internal/fsutil"
	"github.com/lucasnoah/ada/internal/shell"
	"github.com/lucasnoah/ada/internal/task"
)

const (
	DefaultImage      = "ada_agent"
	DefaultDockerfile = "docker/Dockerfile"
	DefaultTempDir    = ".ada_temp"
)

const mockEnv = "ADA_MOCK_LLM"

// DefaultForwardEnv lists the variables passed into the container when set.
var DefaultForwardEnv = []string{
	"OPENAI_API_KEY", "GROQ_API_KEY", "LLM_PROVIDER", "ADA_MODEL", "ADA_MOCK_LLM", "ADA_LOG_LEVEL",
}

// DockerOptions configures a DockerBackend.
type DockerOptions struct {
	Image        string
	Dockerfile   string
	BuildContext string
	TempDir      string
	ForwardEnv   []string
	// Mock runs the containerised pipeline against the mock provider
	// whatever the host environment says.
	Mock   bool
	Runner shell.Runner
	// Getenv reads forwarded variables; os.Getenv when nil.
	Getenv func(string) string
	Logger *slog.Logger
}

// DockerBackend runs `ada exec` inside a container with the repository
// bind-mounted read-write and the task file read-only.
type DockerBackend struct {
	opts DockerOptions
	log  *slog.Logger

	taskFile  string
	container string
}

func NewDocker(opts DockerOptions) *DockerBackend {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = DefaultDockerfile
	}
	if opts.BuildContext == "" {
		opts.BuildContext = "."
	}
	if opts.TempDir == "" {
		opts.TempDir = DefaultTempDir
	}
	if opts.ForwardEnv == nil {
		opts.ForwardEnv = DefaultForwardEnv
	}
	if opts.Runner == nil {
		opts.Runner = &shell.ExecRunner{}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &DockerBackend{opts: opts, log: log.With("backend", KindDocker)}
}

func (d *DockerBackend) Name() string { return KindDocker }

// TaskFile returns the task JSON written by Setup.
func (d *DockerBackend) TaskFile() string { return d.taskFile }

func (d *DockerBackend) docker(ctx context.Context, args ...string) (string, string, int, error) {
	return d.opts.Runner.Run(ctx, "", "docker", args...)
}

func (d *DockerBackend) Setup(ctx context.Context, t task.Task, repo string) error {
	if _, stderr, code, err := d.docker(ctx, "--version"); err != nil || code != 0 {
		if err == nil {
			err = fmt.Errorf("exit %d: %s", code, strings.TrimSpace(stderr))
		}
		return fmt.Errorf("%w: docker: %v", ErrBackendUnavailable, err)
	}

	tmp, err := filepath.Abs(d.opts.TempDir)
	if err != nil {
		return fmt.Errorf("resolve temp dir: %w", err)
	}
	path := filepath.Join(tmp, "task_"+t.Slug()+".json")
	if err := fsutil.WriteJSON(path, t); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	d.taskFile = path
	d.container = "ada_task_" + t.Slug()
	d.log.Debug("task file written", "path", path, "container", d.container)

	stdout, stderr, code, err := d.docker(ctx, "images", "-q", d.opts.Image)
	if err != nil {
		return fmt.Errorf("docker images: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("docker images: exit %d: %s", code, strings.TrimSpace(stderr))
	}
	if strings.TrimSpace(stdout) != "" {
		return nil
	}

	d.log.Info("building image", "image", d.opts.Image, "dockerfile", d.opts.Dockerfile)
	_, stderr, code, err = d.docker(ctx, "build", "-t", d.opts.Image, "-f", d.opts.Dockerfile, d.opts.BuildContext)
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("docker build: exit %d: %s", code, strings.TrimSpace(stderr))
	}
	return nil
}

// RunArgs returns the docker argv for executing t against repo.
func (d *DockerBackend) RunArgs(repo string) ([]string, error) {
	if d.taskFile == "" {
		return nil, ErrNotSetUp
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return nil, fmt.Errorf("resolve repo: %w", err)
	}
	args := []string{
		"run", "--rm",
		"-v", d.taskFile + ":/app/task.json:ro",
		"-v", abs + ":/app/repo:rw",
		"--name", d.container,
	}
	for _, name := range d.opts.ForwardEnv {
		if d.opts.Mock && name == mockEnv {
			continue
		}
		if v := d.opts.Getenv(name); v != "" {
			args = append(args, "-e", name+"="+v)
		}
	}
	if d.opts.Mock {
		args = append(args, "-e", mockEnv+"=1")
	}
	return append(args, d.opts.Image, "ada", "exec", "/app/task.json", "/app/repo"), nil
}

func (d *DockerBackend) Execute(ctx context.Context, t task.Task, repo string) (bool, error) {
	args, err := d.RunArgs(repo)
	if err != nil {
		return false, err
	}
	log := d.log.With("task", t.ID, "container", d.container)
	log.Info("running container", "image", d.opts.Image)

	stdout, stderr, code, err := d.docker(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("docker run: %w", err)
	}
	if out := strings.TrimSpace(stdout); out != "" {
		log.Debug("container output", "stdout", out)
	}
	if code != 0 {
		log.Warn("container failed", "exit_code", code, "stderr", strings.TrimSpace(stderr))
		return false, nil
	}
	return true, nil
}

func (d *DockerBackend) Cleanup() error {
	path := d.taskFile
	d.taskFile = ""
	d.container = ""
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove task file: %w", err)
	}
	return nil
}
