// Package checks runs deterministic project checks (tests, linters, builds)
// inside a workspace and turns their output into feedback an agent can act on.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasnoah/ada/internal/shell"
)

const defaultTimeout = 2 * time.Minute

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	AutoFixed  bool   `json:"auto_fixed"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Message renders a failed result as one feedback entry.
func (r *Result) Message() string {
	if r.Findings == "" {
		return fmt.Sprintf("check %s failed: %s", r.CheckName, r.Summary)
	}
	return fmt.Sprintf("check %s failed: %s\n%s", r.CheckName, r.Summary, r.Findings)
}

// CheckConfig describes one check command.
type CheckConfig struct {
	Name       string        `yaml:"name" json:"name"`
	Command    string        `yaml:"command" json:"command"`
	Parser     string        `yaml:"parser" json:"parser,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	AutoFix    bool          `yaml:"auto_fix" json:"auto_fix,omitempty"`
	FixCommand string        `yaml:"fix_command" json:"fix_command,omitempty"`
}

// Runner executes checks through the shell and parses their output.
type Runner struct {
	cmd     shell.Runner
	parsers map[string]Parser
	log     *slog.Logger
}

// NewRunner creates a Runner. A nil cmd uses shell.ExecRunner.
func NewRunner(cmd shell.Runner, logger *slog.Logger) *Runner {
	if cmd == nil {
		cmd = &shell.ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		cmd: cmd,
		log: logger,
		parsers: map[string]Parser{
			"generic": &GenericParser{},
			"gotest":  &GoTestParser{},
			"pytest":  &PytestParser{},
		},
	}
}

// Run executes a single check in dir. A failing check with auto-fix enabled
// runs its fix command once and is re-checked.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	result, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, err
	}
	if result.Passed || !cfg.AutoFix || cfg.FixCommand == "" {
		return result, nil
	}

	fixCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name, args := shell.Script(cfg.FixCommand)
	// Fix commands often exit non-zero even when they changed something.
	_, _, code, err := r.cmd.Run(fixCtx, dir, name, args...)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.log.Debug("ran fix command", "check", cfg.Name, "exit_code", code)

	recheck, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, fmt.Errorf("re-run after fix: %w", err)
	}
	recheck.AutoFixed = true
	return recheck, nil
}

func (r *Runner) runOnce(ctx context.Context, dir string, cfg CheckConfig, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	name, args := shell.Script(cfg.Command)
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, name, args...)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
			return &Result{
				CheckName:  cfg.Name,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	r.log.Debug("check finished", "check", cfg.Name, "exit_code", exitCode, "duration_ms", durationMs)
	return &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   parsed.Findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
