package toolbox

import (
	"errors"
	"fmt"
)

var (
	ErrTargetNotFound  = errors.New("target not found")
	ErrAmbiguousTarget = errors.New("ambiguous target")
	ErrIsDirectory     = errors.New("is a directory")
)

// SecurityError reports an operation rejected by the workspace boundary.
// Nothing touches the filesystem or spawns a process once one is returned.
type SecurityError struct {
	Op     string
	Path   string
	Reason string
}

func (e *SecurityError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("security violation: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("security violation: %s %q: %s", e.Op, e.Path, e.Reason)
}

// ArgumentError reports a malformed tool invocation.
type ArgumentError struct {
	Tool   string
	Detail string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

// ExecutionError wraps an OS-level failure of an otherwise permitted operation.
type ExecutionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
