// Package toolbox is the only surface through which an agent touches a
// workspace. Every path is confined to the bound root and every command is
// screened and time-limited before it runs.
package toolbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/ada/internal/shell"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultSearchLimit = 20000
)

// Options tunes a Toolset. Zero values select the defaults.
type Options struct {
	Runner       shell.Runner
	Timeout      time.Duration
	SearchLimit  int
	ExtraBlocked []string
	Logger       *slog.Logger
}

// Toolset binds the file and process tools to one workspace root.
type Toolset struct {
	root     string
	realRoot string
	runner   shell.Runner
	timeout  time.Duration
	limit    int
	blocked  []string
	log      *slog.Logger
	allowed  map[string]bool
}

// New binds a toolset to root, which must be an existing directory.
func New(root string, opts Options) (*Toolset, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	t := &Toolset{
		root:     abs,
		realRoot: real,
		runner:   opts.Runner,
		timeout:  opts.Timeout,
		limit:    opts.SearchLimit,
		blocked:  blockPatterns(opts.ExtraBlocked),
		log:      opts.Logger,
	}
	if t.runner == nil {
		t.runner = &shell.ExecRunner{}
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.limit <= 0 {
		t.limit = DefaultSearchLimit
	}
	if t.log == nil {
		t.log = slog.New(slog.DiscardHandler)
	}
	return t, nil
}

// Root returns the absolute workspace root.
func (t *Toolset) Root() string { return t.root }

func (t *Toolset) ReadFile(path string) (string, error) {
	p, err := t.resolve("read", path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", &ExecutionError{Op: "read", Path: path, Err: err}
	}
	return string(data), nil
}

// WriteFile replaces the file's content, creating parent directories.
func (t *Toolset) WriteFile(path, content string) error {
	if path == "" {
		return &ArgumentError{Tool: "write_file", Detail: "path is required"}
	}
	p, err := t.resolve("write", path)
	if err != nil {
		return err
	}
	if p == t.root {
		return &SecurityError{Op: "write", Path: path, Reason: "cannot write to workspace root"}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &ExecutionError{Op: "write", Path: path, Err: err}
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return &ExecutionError{Op: "write", Path: path, Err: err}
	}
	t.log.Debug("wrote file", "path", t.rel(p), "bytes", len(content))
	return nil
}

// DeleteFile removes a single file. Directories are refused.
func (t *Toolset) DeleteFile(path string) error {
	if path == "" {
		return &ArgumentError{Tool: "delete_file", Detail: "path is required"}
	}
	p, err := t.resolve("delete", path)
	if err != nil {
		return err
	}
	if p == t.root {
		return &SecurityError{Op: "delete", Path: path, Reason: "cannot delete workspace root"}
	}
	info, err := os.Lstat(p)
	if err != nil {
		return &ExecutionError{Op: "delete", Path: path, Err: err}
	}
	if info.IsDir() {
		return &ExecutionError{Op: "delete", Path: path, Err: ErrIsDirectory}
	}
	if err := os.Remove(p); err != nil {
		return &ExecutionError{Op: "delete", Path: path, Err: err}
	}
	t.log.Debug("deleted file", "path", t.rel(p))
	return nil
}

// ListFiles returns every non-ignored file under dir, relative to the root,
// in lexical order.
func (t *Toolset) ListFiles(dir string) ([]string, error) {
	p, err := t.resolve("list", dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, &ExecutionError{Op: "list", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ExecutionError{Op: "list", Path: dir, Err: errors.New("not a directory")}
	}

	files := []string{}
	err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == p {
			return nil
		}
		if isIgnored(d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, t.rel(path))
		}
		return nil
	})
	if err != nil {
		return nil, &ExecutionError{Op: "list", Path: dir, Err: err}
	}
	return files, nil
}

// EditFile replaces exactly one occurrence of target with replacement.
func (t *Toolset) EditFile(path, target, replacement string) error {
	if path == "" {
		return &ArgumentError{Tool: "edit_file", Detail: "path is required"}
	}
	if target == "" {
		return &ArgumentError{Tool: "edit_file", Detail: "target must not be empty"}
	}
	p, err := t.resolve("edit", path)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return &ExecutionError{Op: "edit", Path: path, Err: err}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return &ExecutionError{Op: "edit", Path: path, Err: err}
	}

	content := string(data)
	switch n := strings.Count(content, target); {
	case n == 0:
		return ErrTargetNotFound
	case n > 1:
		return fmt.Errorf("%w: matched %d times", ErrAmbiguousTarget, n)
	}

	updated := strings.Replace(content, target, replacement, 1)
	if err := os.WriteFile(p, []byte(updated), info.Mode().Perm()); err != nil {
		return &ExecutionError{Op: "edit", Path: path, Err: err}
	}
	t.log.Debug("edited file", "path", t.rel(p))
	return nil
}
