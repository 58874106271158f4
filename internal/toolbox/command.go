package toolbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// defaultBlocked are substrings that reject a command outright. Matching is
// case-insensitive on whitespace-normalised text.
var defaultBlocked = []string{
	"rm -rf",
	"rm -fr",
	"del /f",
	"format c:",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sd",
	"chmod -r 777 /",
	"shutdown",
}

const (
	blockedMessage  = "command blocked for security reasons"
	truncatedMarker = "\n...[OUTPUT TRUNCATED]..."
)

// CommandResult is the captured outcome of RunCommand.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func blockPatterns(extra []string) []string {
	out := make([]string, 0, len(defaultBlocked)+len(extra))
	for _, p := range append(append([]string{}, defaultBlocked...), extra...) {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Blocked reports the first blacklist pattern found in command.
func (t *Toolset) Blocked(command string) (string, bool) {
	n := normalize(command)
	for _, p := range t.blocked {
		if strings.Contains(n, p) {
			return p, true
		}
	}
	return "", false
}

// RunCommand executes command through sh -c in the workspace root. Blocked
// commands are never spawned. A timeout is reported on the result, not as an
// error; the error return is reserved for cancellation and spawn failures.
func (t *Toolset) RunCommand(ctx context.Context, command string) (CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return CommandResult{}, &ArgumentError{Tool: "run_command", Detail: "command is required"}
	}
	if pattern, ok := t.Blocked(command); ok {
		t.log.Warn("blocked command", "command", command, "pattern", pattern)
		return CommandResult{ExitCode: 1, Stderr: blockedMessage, Blocked: true}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.log.Debug("running command", "command", command)
	stdout, stderr, code, err := t.runner.Run(runCtx, t.root, "sh", "-c", command)
	if err != nil {
		if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
			t.log.Warn("command timed out", "command", command, "timeout", t.timeout)
			return CommandResult{
				Stdout:   stdout,
				Stderr:   fmt.Sprintf("command timed out (%s limit)", t.timeout),
				ExitCode: 1,
				TimedOut: true,
			}, nil
		}
		return CommandResult{}, &ExecutionError{Op: "run", Err: err}
	}
	return CommandResult{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// Search greps the workspace (or a sub-directory of it) for pattern, skipping
// ignored directories and dotfiles. Output beyond the search limit is cut.
func (t *Toolset) Search(ctx context.Context, pattern, dir string) (string, error) {
	if pattern == "" {
		return "", &ArgumentError{Tool: "search_codebase", Detail: "pattern is required"}
	}
	p, err := t.resolve("search", dir)
	if err != nil {
		return "", err
	}

	args := []string{"-rnI", "--exclude=.*", "--exclude-dir=.*"}
	dirs := make([]string, 0, len(ignoredDirs))
	for d := range ignoredDirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		args = append(args, "--exclude-dir="+d)
	}
	args = append(args, "-e", pattern)
	if r := t.rel(p); r != "." {
		args = append(args, "--", r)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	stdout, stderr, code, err := t.runner.Run(runCtx, t.root, "grep", args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ExecutionError{Op: "search", Path: dir, Err: err}
	}
	// grep exits 1 when nothing matched.
	if code > 1 {
		return "", &ExecutionError{Op: "search", Path: dir, Err: fmt.Errorf("grep exited %d: %s", code, strings.TrimSpace(stderr))}
	}
	if len(stdout) > t.limit {
		stdout = stdout[:t.limit] + truncatedMarker
	}
	return stdout, nil
}
