package toolbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_BlockedNeverSpawns(t *testing.T) {
	spy := &spyRunner{}
	ts, _ := newToolset(t, Options{Runner: spy, ExtraBlocked: []string{"git push"}})

	for _, cmd := range []string{
		"rm -rf /",
		"RM   -RF ~",
		"cd / && rm -fr *",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		":(){ :|:& };:",
		"echo x > /dev/sda",
		"chmod -R 777 /",
		"sudo shutdown now",
		"git  push origin main",
	} {
		res, err := ts.RunCommand(context.Background(), cmd)
		require.NoError(t, err, cmd)
		assert.Equal(t, 1, res.ExitCode, cmd)
		assert.Empty(t, res.Stdout, cmd)
		assert.Contains(t, res.Stderr, "blocked", cmd)
		assert.True(t, res.Blocked, cmd)
	}
	assert.Empty(t, spy.calls)
}

func TestRunCommand_DelegatesToShell(t *testing.T) {
	spy := &spyRunner{stdout: "ok\n", stderr: "warn\n", code: 3}
	ts, root := newToolset(t, Options{Runner: spy})

	res, err := ts.RunCommand(context.Background(), "make test")
	require.NoError(t, err)
	assert.Equal(t, CommandResult{Stdout: "ok\n", Stderr: "warn\n", ExitCode: 3}, res)
	require.Len(t, spy.calls, 1)
	assert.Equal(t, []string{"sh", "-c", "make test"}, spy.calls[0])
	assert.Equal(t, root, spy.dirs[0])
}

func TestRunCommand_Timeout(t *testing.T) {
	spy := &spyRunner{block: true}
	ts, _ := newToolset(t, Options{Runner: spy, Timeout: 20 * time.Millisecond})

	res, err := ts.RunCommand(context.Background(), "sleep 100")
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "command timed out (20ms limit)", res.Stderr)
}

func TestNew_Defaults(t *testing.T) {
	ts, _ := newToolset(t, Options{})
	assert.Equal(t, 30*time.Second, ts.timeout)
	assert.Equal(t, 20000, ts.limit)
}

func TestRunCommand_Cancelled(t *testing.T) {
	spy := &spyRunner{block: true}
	ts, _ := newToolset(t, Options{Runner: spy})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ts.RunCommand(ctx, "sleep 100")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunCommand_RealShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ts, root := newToolset(t, Options{})
	writeFile(t, filepath.Join(root, "hello.txt"), "hello")

	res, err := ts.RunCommand(context.Background(), "cat hello.txt; echo err >&2; exit 4")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 4, res.ExitCode)
}

func TestSearch_Args(t *testing.T) {
	spy := &spyRunner{stdout: "main.go:1:package main\n"}
	ts, root := newToolset(t, Options{Runner: spy})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))

	out, err := ts.Search(context.Background(), "package", "")
	require.NoError(t, err)
	assert.Equal(t, "main.go:1:package main\n", out)

	_, err = ts.Search(context.Background(), "func", "pkg")
	require.NoError(t, err)

	require.Len(t, spy.calls, 2)
	first := spy.calls[0]
	assert.Equal(t, "grep", first[0])
	assert.Contains(t, first, "-rnI")
	assert.Contains(t, first, "--exclude=.*")
	assert.Contains(t, first, "--exclude-dir=.*")
	assert.Contains(t, first, "--exclude-dir=node_modules")
	assert.Contains(t, first, "--exclude-dir=.git")
	assert.Equal(t, []string{"-e", "package"}, first[len(first)-2:])

	second := spy.calls[1]
	assert.Equal(t, []string{"--", "pkg"}, second[len(second)-2:])
}

func TestSearch_SkipsHiddenDirectories(t *testing.T) {
	if _, err := exec.LookPath("grep"); err != nil {
		t.Skip("grep not available")
	}
	ts, root := newToolset(t, Options{})
	writeFile(t, filepath.Join(root, ".github", "workflows", "ci.yml"), "needle\n")
	writeFile(t, filepath.Join(root, ".env"), "needle\n")
	writeFile(t, filepath.Join(root, "pkg", "a.go"), "needle\n")

	out, err := ts.Search(context.Background(), "needle", "")
	require.NoError(t, err)
	assert.Contains(t, out, "a.go")
	assert.NotContains(t, out, ".github")
	assert.NotContains(t, out, ".env")
}

func TestSearch_NoMatchAndFailure(t *testing.T) {
	spy := &spyRunner{code: 1}
	ts, _ := newToolset(t, Options{Runner: spy})
	out, err := ts.Search(context.Background(), "nothing", "")
	require.NoError(t, err)
	assert.Empty(t, out)

	spy.code = 2
	spy.stderr = "grep: bad regex"
	_, err = ts.Search(context.Background(), "(", "")
	var exe *ExecutionError
	assert.True(t, errors.As(err, &exe))
}

func TestSearch_Truncates(t *testing.T) {
	spy := &spyRunner{stdout: strings.Repeat("a", 150)}
	ts, _ := newToolset(t, Options{Runner: spy, SearchLimit: 100})

	out, err := ts.Search(context.Background(), "a", "")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 100)+"\n...[OUTPUT TRUNCATED]...", out)
}

func TestSearch_RejectsEscape(t *testing.T) {
	spy := &spyRunner{}
	ts, _ := newToolset(t, Options{Runner: spy})

	_, err := ts.Search(context.Background(), "root", "/etc")
	var sec *SecurityError
	assert.True(t, errors.As(err, &sec))
	assert.Empty(t, spy.calls)
}
