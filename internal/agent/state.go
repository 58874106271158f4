// Package agent holds the pipeline stages that talk to a reasoning
// provider or inspect the workspace: the coder, the validator and the
// planner.
package agent

import (
	"context"

	"github.com/lucasnoah/ada/internal/toolbox"
)

// LoopState tracks where a reasoning loop is.
type LoopState int

const (
	LoopFresh LoopState = iota
	LoopResumed
	LoopActive
	LoopFinished
	LoopExceeded
	LoopCrashed
)

func (s LoopState) String() string {
	switch s {
	case LoopFresh:
		return "fresh"
	case LoopResumed:
		return "resumed"
	case LoopActive:
		return "active"
	case LoopFinished:
		return "finished"
	case LoopExceeded:
		return "exceeded"
	case LoopCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Tools is the tool surface a loop drives. *toolbox.Toolset implements it.
type Tools interface {
	Specs() []toolbox.Spec
	Call(ctx context.Context, c toolbox.Call) toolbox.Result
}
