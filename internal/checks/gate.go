package checks

import (
	"context"
	"encoding/json"
	"fmt"
)

// GateCheckResult holds the result of a single check within a gate run.
type GateCheckResult struct {
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	AutoFixed bool   `json:"auto_fixed,omitempty"`
	Runs      int    `json:"runs"`
	Summary   string `json:"summary,omitempty"`
}

// GateResult is the structured output of a full gate run.
type GateResult struct {
	Gate     string            `json:"gate"`
	Attempt  int               `json:"attempt"`
	Passed   bool              `json:"passed"`
	Checks   []GateCheckResult `json:"checks"`
	Failures []string          `json:"failures,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GateOpts configures a gate run.
type GateOpts struct {
	Stage   string
	Attempt int
	Checks  []CheckConfig
	// Continue runs every check even after one fails.
	Continue bool
}

// RunGate executes the checks in order. Failures are collected in check
// order as feedback messages. A gate with no checks passes.
func (r *Runner) RunGate(ctx context.Context, dir string, opts GateOpts) (*GateResult, []*Result, error) {
	gate := &GateResult{
		Gate:    opts.Stage,
		Attempt: opts.Attempt,
		Passed:  true,
	}

	var all []*Result
	for _, chk := range opts.Checks {
		result, err := r.Run(ctx, dir, chk)
		if err != nil {
			return nil, all, fmt.Errorf("run check %q: %w", chk.Name, err)
		}
		all = append(all, result)

		runs := 1
		if result.AutoFixed {
			runs = 2
		}
		gate.Checks = append(gate.Checks, GateCheckResult{
			Check:     chk.Name,
			Passed:    result.Passed,
			AutoFixed: result.AutoFixed,
			Runs:      runs,
			Summary:   result.Summary,
		})

		if !result.Passed {
			gate.Passed = false
			gate.Failures = append(gate.Failures, result.Message())
			if !opts.Continue {
				break
			}
		}
	}
	return gate, all, nil
}
