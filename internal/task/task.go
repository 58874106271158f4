// Package task defines the unit of work that flows through a pipeline: either
// a user story or one of the atomic tasks planned from it.
package task

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// Kind distinguishes stories from atomic tasks. It only affects which
// identifier key is written back to JSON.
type Kind string

const (
	KindTask  Kind = "task"
	KindStory Kind = "story"
)

// Task is one unit of work. It is treated as immutable once dispatched.
type Task struct {
	ID                 string
	Kind               Kind
	Title              string
	Description        string
	AcceptanceCriteria []string
	Dependencies       []string
}

// wireTask is the on-disk shape. Files written by planners and humans use
// task_id or story_id; id is accepted for convenience.
type wireTask struct {
	ID                 string   `json:"id,omitempty"`
	TaskID             string   `json:"task_id,omitempty"`
	StoryID            string   `json:"story_id,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: t.AcceptanceCriteria,
		Dependencies:       t.Dependencies,
	}
	if t.Kind == KindStory {
		w.StoryID = t.ID
	} else {
		w.TaskID = t.ID
	}
	return json.Marshal(w)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Task{
		Kind:               KindTask,
		Title:              w.Title,
		Description:        w.Description,
		AcceptanceCriteria: w.AcceptanceCriteria,
		Dependencies:       w.Dependencies,
	}
	switch {
	case w.TaskID != "":
		t.ID = w.TaskID
	case w.StoryID != "":
		t.ID = w.StoryID
		t.Kind = KindStory
	default:
		t.ID = w.ID
	}
	return nil
}

var (
	ErrMissingID    = errors.New("task has no identifier (task_id, story_id or id)")
	ErrMissingTitle = errors.New("task has no title")
)

// Validate reports whether the task carries the fields every stage relies on.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %s: %w", t.ID, ErrMissingTitle)
	}
	return nil
}

var unsafeSlug = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxSlug = 64

// Slug returns a filesystem- and container-name-safe form of the ID. IDs
// that are already safe are returned as is; any other ID gets a short
// digest suffix so distinct IDs never share a slug.
func (t Task) Slug() string {
	s := unsafeSlug.ReplaceAllString(t.ID, "-")
	s = strings.Trim(s, "-.")
	if s != "" && s == t.ID && len(s) <= maxSlug {
		return s
	}
	if t.ID == "" {
		return "unknown"
	}

	sum := blake3.Sum256([]byte(t.ID))
	suffix := hex.EncodeToString(sum[:4])
	if n := maxSlug - len(suffix) - 1; len(s) > n {
		s = strings.TrimRight(s[:n], "-.")
	}
	if s == "" {
		return "id-" + suffix
	}
	return s + "-" + suffix
}

// Parse decodes a single task from JSON or JSONC.
func Parse(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(jsonc.ToJSON(data), &t); err != nil {
		return Task{}, fmt.Errorf("parse task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// ParseList decodes either a JSON array of tasks or a single task object.
func ParseList(data []byte) ([]Task, error) {
	clean := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(clean) == 0 {
		return nil, errors.New("parse tasks: empty input")
	}
	if clean[0] != '[' {
		t, err := Parse(clean)
		if err != nil {
			return nil, err
		}
		return []Task{t}, nil
	}

	var tasks []Task
	if err := json.Unmarshal(clean, &tasks); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return tasks, nil
}

// Load reads a single task file.
func Load(path string) (Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("read task file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return Task{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadList reads a file holding one task or an array of them.
func LoadList(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	tasks, err := ParseList(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}
