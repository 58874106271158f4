package agent

import (
	"context"
	"log/slog"

	"github.com/lucasnoah/ada/internal/checks"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/task"
)

// Gate runs a set of checks. *checks.Runner implements it.
type Gate interface {
	RunGate(ctx context.Context, dir string, opts checks.GateOpts) (*checks.GateResult, []*checks.Result, error)
}

// Validator rejects the cycle when any configured check fails.
type Validator struct {
	gate   Gate
	checks []checks.CheckConfig
	log    *slog.Logger
}

func NewValidator(gate Gate, cfgs []checks.CheckConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{gate: gate, checks: cfgs, log: logger}
}

func (v *Validator) Name() string { return "validator" }

func (v *Validator) Run(ctx context.Context, t task.Task, workspace string, pc pipeline.Context) (pipeline.StageResult, error) {
	log := v.log.With("task", t.ID, "stage", v.Name())
	if len(v.checks) == 0 {
		log.Debug("no checks configured")
		return pipeline.StageResult{Success: true, Output: "no checks configured"}, nil
	}

	gate, _, err := v.gate.RunGate(ctx, workspace, checks.GateOpts{
		Stage:    v.Name(),
		Attempt:  pc.Int(pipeline.KeyAttempt),
		Checks:   v.checks,
		Continue: true,
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if gate.Passed {
		log.Info("all checks passed", "checks", len(gate.Checks))
		return pipeline.StageResult{Success: true, Output: gate}, nil
	}

	log.Warn("checks failed", "failures", len(gate.Failures))
	return pipeline.StageResult{
		Success: false,
		Output:  gate.Failures,
		ContextUpdates: map[string]any{
			pipeline.KeyValidationFeedback: gate.Failures,
		},
	}, nil
}
