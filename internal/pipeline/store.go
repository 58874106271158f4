package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lucasnoah/ada/internal/fsutil"
	"github.com/lucasnoah/ada/internal/task"
)

// ErrRunNotFound is returned when no record exists for a task.
var ErrRunNotFound = errors.New("run not found")

// Store keeps run records and the completed-task set on disk, one
// directory per task slug.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func slugOf(taskID string) string {
	return task.Task{ID: taskID}.Slug()
}

func (s *Store) runPath(taskID string) string {
	return filepath.Join(s.baseDir, slugOf(taskID), "run.json")
}

func (s *Store) completedDir() string {
	return filepath.Join(s.baseDir, ".completed")
}

func (s *Store) completedPath(taskID string) string {
	return filepath.Join(s.completedDir(), slugOf(taskID)+".json")
}

// Begin starts a run for t, replacing any previous record.
func (s *Store) Begin(t task.Task, workspace string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	rec := &RunRecord{
		TaskID:    t.ID,
		Title:     t.Title,
		Workspace: workspace,
		Status:    StatusInProgress,
		Cycles:    []CycleRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fsutil.WriteJSON(s.runPath(t.ID), rec); err != nil {
		return nil, fmt.Errorf("write run record: %w", err)
	}
	return rec, nil
}

// Get reads the record for a task.
func (s *Store) Get(taskID string) (*RunRecord, error) {
	var rec RunRecord
	if err := fsutil.ReadJSON(s.runPath(taskID), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", taskID, ErrRunNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// Update performs an atomic read-modify-write of a run record.
func (s *Store) Update(taskID string, fn func(*RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(taskID)
	if err != nil {
		return err
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return fsutil.WriteJSON(s.runPath(taskID), rec)
}

// List returns every record, optionally filtered by status, ordered by
// task ID. Unreadable entries are skipped.
func (s *Store) List(statusFilter string) ([]RunRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var rec RunRecord
		if err := fsutil.ReadJSON(filepath.Join(s.baseDir, entry.Name(), "run.json"), &rec); err != nil {
			continue
		}
		if statusFilter == "" || rec.Status == statusFilter {
			runs = append(runs, rec)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].TaskID < runs[j].TaskID })
	return runs, nil
}

// Delete removes all data for a task's run.
func (s *Store) Delete(taskID string) error {
	dir := filepath.Dir(s.runPath(taskID))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", taskID, ErrRunNotFound)
	}
	return os.RemoveAll(dir)
}

// completion marks one finished task. Each task has its own marker file so
// stores sharing a directory never rewrite each other's entries.
type completion struct {
	TaskID      string `json:"task_id"`
	CompletedAt int64  `json:"completed_at"`
}

// Completed returns the IDs of tasks that finished successfully, in
// completion order.
func (s *Store) Completed() ([]string, error) {
	entries, err := os.ReadDir(s.completedDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read completed set: %w", err)
	}

	marks := make([]completion, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var c completion
		if err := fsutil.ReadJSON(filepath.Join(s.completedDir(), entry.Name()), &c); err != nil {
			return nil, fmt.Errorf("read completed set: %w", err)
		}
		marks = append(marks, c)
	}
	sort.SliceStable(marks, func(i, j int) bool {
		if marks[i].CompletedAt != marks[j].CompletedAt {
			return marks[i].CompletedAt < marks[j].CompletedAt
		}
		return marks[i].TaskID < marks[j].TaskID
	})

	ids := make([]string, len(marks))
	for i, c := range marks {
		ids[i] = c.TaskID
	}
	return ids, nil
}

// MarkCompleted adds taskID to the completed set once.
func (s *Store) MarkCompleted(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.completedPath(taskID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return fsutil.WriteJSON(path, completion{TaskID: taskID, CompletedAt: time.Now().UnixNano()})
}
