package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notService(t *testing.T) {
	t.Helper()
	prev := detectService
	detectService = func() bool { return false }
	t.Cleanup(func() { detectService = prev })
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "Error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_TextFiltersByLevel(t *testing.T) {
	notService(t)
	var buf bytes.Buffer
	log, closeFn, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)
	defer closeFn()

	log.Info("hidden")
	log.Warn("shown", "task", "T-1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "task=T-1")
}

func TestNew_JSONAndFile(t *testing.T) {
	notService(t)
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	log, closeFn, err := New(Options{Format: "json", File: file, Writer: &buf})
	require.NoError(t, err)

	log.With("stage", "coder").Info("tool call", "count", 3)
	require.NoError(t, closeFn())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tool call", rec["msg"])
	assert.Equal(t, "coder", rec["stage"])

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"count":3`)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	notService(t)
	_, _, err := New(Options{Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
}

func TestToJournalKey(t *testing.T) {
	assert.Equal(t, "TOOL_CALLS", toJournalKey("tool-calls"))
	assert.Equal(t, "TASK_ID2", toJournalKey("task.id2"))
}
