package checks

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Block    bool
}

func (m *mockCmd) Run(ctx context.Context, dir string, name string, args ...string) (string, string, int, error) {
	if name != "sh" || len(args) != 2 || args[0] != "-c" {
		return "", "", -1, fmt.Errorf("unexpected argv %s %v", name, args)
	}
	m.calls = append(m.calls, mockCall{Dir: dir, Command: args[1]})
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	if r.Block {
		<-ctx.Done()
		return r.Stdout, r.Stderr, -1, ctx.Err()
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "all good", ExitCode: 0}}}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "test",
		Command: "go test ./...",
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true")
	}
	if result.CheckName != "test" {
		t.Errorf("expected check_name=test, got %q", result.CheckName)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" || mock.calls[0].Command != "go test ./..." {
		t.Errorf("unexpected call %+v", mock.calls[0])
	}
}

func TestRunner_Run_FailedCheck(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "errors found", Stderr: "boom", ExitCode: 1}}}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/w", CheckConfig{Name: "lint", Command: "make lint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false")
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit_code=1, got %d", result.ExitCode)
	}
	msg := result.Message()
	if !strings.HasPrefix(msg, "check lint failed: exit code 1") || !strings.Contains(msg, "errors found\nboom") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestRunner_Run_AutoFix(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "errors found", ExitCode: 1}, // initial run
			{Stdout: "fixed", ExitCode: 1},        // fix command, exit code ignored
			{Stdout: "all good", ExitCode: 0},     // re-run
		},
	}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/w", CheckConfig{
		Name:       "fmt",
		Command:    "gofmt -l .",
		AutoFix:    true,
		FixCommand: "gofmt -w .",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed || !result.AutoFixed {
		t.Errorf("expected passed and auto_fixed, got %+v", result)
	}
	if len(mock.calls) != 3 {
		t.Fatalf("expected 3 calls (run, fix, re-run), got %d", len(mock.calls))
	}
	if mock.calls[1].Command != "gofmt -w ." {
		t.Errorf("expected fix command, got %q", mock.calls[1].Command)
	}
}

func TestRunner_Run_NoAutoFixWhenPassing(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: 0}}}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/w", CheckConfig{
		Name: "fmt", Command: "gofmt -l .", AutoFix: true, FixCommand: "gofmt -w .",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed || len(mock.calls) != 1 {
		t.Errorf("expected single passing call, got passed=%v calls=%d", result.Passed, len(mock.calls))
	}
}

func TestRunner_Run_UnknownParserFallsToGeneric(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "output", ExitCode: 0}}}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/w", CheckConfig{Name: "custom", Command: "check", Parser: "nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("expected generic summary, got %q", result.Summary)
	}
}

func TestRunner_Run_CommandError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Err: fmt.Errorf("exec sh: not found")}}}
	runner := NewRunner(mock, nil)

	if _, err := runner.Run(context.Background(), "/w", CheckConfig{Name: "lint", Command: "lint"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Block: true, Stdout: "partial"}}}
	runner := NewRunner(mock, nil)

	result, err := runner.Run(context.Background(), "/w", CheckConfig{
		Name: "slow", Command: "sleep 60", Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed || result.ExitCode != -1 {
		t.Errorf("expected timed out failure, got %+v", result)
	}
	if !strings.HasPrefix(result.Summary, "timeout after") {
		t.Errorf("unexpected summary %q", result.Summary)
	}
}

func TestRunner_Run_Cancelled(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Block: true}}}
	runner := NewRunner(mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx, "/w", CheckConfig{Name: "x", Command: "x"}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
