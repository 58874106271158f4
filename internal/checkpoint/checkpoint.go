// Package checkpoint persists reasoning-loop progress so an interrupted
// session can resume where it stopped.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lucasnoah/ada/internal/fsutil"
)

// Checkpoint is the on-disk state of one loop. Messages is the provider's
// conversation history, kept opaque here. Attempt and Done tie the snapshot
// to a pipeline cycle so a later cycle does not resume a finished one.
type Checkpoint struct {
	Messages      json.RawMessage `json:"messages"`
	ToolCallCount int             `json:"tool_call_count"`
	Attempt       int             `json:"attempt,omitempty"`
	Done          bool            `json:"done,omitempty"`
}

// Path returns the default checkpoint location for a task stage.
func Path(dir, slug, stage string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.json", slug, stage))
}

// Load reads the checkpoint at path. A missing, empty or corrupt file is
// reported as not found so the caller starts fresh.
func Load(path string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, nil
	}
	if cp.ToolCallCount < 0 {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Save atomically replaces the checkpoint at path.
func Save(path string, cp Checkpoint) error {
	if len(bytes.TrimSpace(cp.Messages)) == 0 {
		cp.Messages = json.RawMessage("[]")
	}
	if err := fsutil.WriteJSON(path, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Remove deletes the checkpoint at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether dir holds any checkpoint file for slug.
func Exists(dir, slug string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, slug+"-*.json"))
	return err == nil && len(matches) > 0
}
