package pipeline

import (
	"fmt"
	"maps"
)

// Well-known context keys.
const (
	KeyGlobalRules        = "global_rules"
	KeyCompletedTasks     = "completed_tasks"
	KeyFeedback           = "feedback"
	KeyFailedStage        = "failed_stage"
	KeyAttempt            = "attempt"
	KeyValidationFeedback = "validation_feedback"
	KeyGeneratedTasks     = "generated_tasks"
	KeyCheckpointPath     = "checkpoint_path"
)

// Context is the state shared by the stages of one run. It lives for the
// whole run and updates are merged last-write-wins.
type Context map[string]any

// Clone returns a shallow copy. Stages receive clones so that only the
// updates they return reach the shared state.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	return maps.Clone(c)
}

// Merge applies updates over c.
func (c Context) Merge(updates map[string]any) {
	for k, v := range updates {
		c[k] = v
	}
}

// String returns the value under key as a string, or "".
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns the value under key as a string list. A single string is
// a one-element list.
func (c Context) Strings(key string) []string {
	return toStrings(c[key])
}

// Int returns the value under key as an int, or 0.
func (c Context) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func toStrings(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case error:
		return []string{v.Error()}
	case fmt.Stringer:
		return []string{v.String()}
	default:
		return []string{fmt.Sprint(v)}
	}
}
