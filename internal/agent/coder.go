package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucasnoah/ada/internal/checkpoint"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/prompt"
	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/task"
)

const (
	DefaultMaxToolCalls  = 10
	DefaultCheckpointDir = ".ada_checkpoints"
)

// CoderOptions tunes the coder loop. Zero values select the defaults.
type CoderOptions struct {
	MaxToolCalls int
	// MaxTurns bounds provider turns of any kind, defaulting to three per
	// allowed tool call.
	MaxTurns      int
	CheckpointDir string
	PromptDir     string
	Logger        *slog.Logger
}

// LoopReport describes how a loop ended.
type LoopReport struct {
	State      LoopState
	ToolCalls  int
	Turns      int
	Checkpoint string
	Summary    string
}

// Coder is the stage that lets the provider change the workspace through
// tools. Progress is checkpointed after every step.
type Coder struct {
	provider provider.Provider
	tools    Tools
	opts     CoderOptions
	log      *slog.Logger
	last     LoopReport
}

func NewCoder(p provider.Provider, tools Tools, opts CoderOptions) *Coder {
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 3 * opts.MaxToolCalls
	}
	if opts.CheckpointDir == "" {
		opts.CheckpointDir = DefaultCheckpointDir
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Coder{provider: p, tools: tools, opts: opts, log: log}
}

func (c *Coder) Name() string { return "coder" }

// LastReport returns the report of the most recent Run.
func (c *Coder) LastReport() LoopReport { return c.last }

// CheckpointPath resolves where this stage persists progress for t.
func (c *Coder) CheckpointPath(t task.Task, pc pipeline.Context) string {
	if p := pc.String(pipeline.KeyCheckpointPath); p != "" {
		return p
	}
	return checkpoint.Path(c.opts.CheckpointDir, t.Slug(), c.Name())
}

func (c *Coder) Run(ctx context.Context, t task.Task, workspace string, pc pipeline.Context) (pipeline.StageResult, error) {
	report, err := c.loop(ctx, t, workspace, pc)
	c.last = report
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{
		Success: true,
		Output:  report.Summary,
		ContextUpdates: map[string]any{
			"coder_state":      report.State.String(),
			"coder_tool_calls": report.ToolCalls,
		},
	}, nil
}

func (c *Coder) loop(ctx context.Context, t task.Task, workspace string, pc pipeline.Context) (LoopReport, error) {
	attempt := max(pc.Int(pipeline.KeyAttempt), 1)
	rep := LoopReport{Checkpoint: c.CheckpointPath(t, pc)}
	log := c.log.With("task", t.ID, "stage", c.Name(), "attempt", attempt)

	next, err := c.enter(&rep, t, workspace, pc, attempt, log)
	if err != nil {
		rep.State = LoopCrashed
		return rep, err
	}
	if rep.State == LoopFinished {
		return rep, nil
	}

	save := func(done bool) error {
		msgs, err := provider.EncodeHistory(c.provider.History())
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		return checkpoint.Save(rep.Checkpoint, checkpoint.Checkpoint{
			Messages:      msgs,
			ToolCallCount: rep.ToolCalls,
			Attempt:       attempt,
			Done:          done,
		})
	}
	crash := func(err error) (LoopReport, error) {
		rep.State = LoopCrashed
		if serr := save(false); serr != nil {
			log.Error("checkpoint write after crash failed", "error", serr)
		}
		log.Error("coder loop crashed", "tool_calls", rep.ToolCalls, "error", err)
		return rep, err
	}

	specs := c.tools.Specs()
	for {
		if rep.ToolCalls >= c.opts.MaxToolCalls || rep.Turns >= c.opts.MaxTurns {
			rep.State = LoopExceeded
			log.Warn("loop limit reached, completing task",
				"tool_calls", rep.ToolCalls, "max_tool_calls", c.opts.MaxToolCalls,
				"turns", rep.Turns, "max_turns", c.opts.MaxTurns)
			if err := save(true); err != nil {
				return crash(err)
			}
			return rep, nil
		}
		if err := ctx.Err(); err != nil {
			return crash(err)
		}

		rep.State = LoopActive
		resp, err := c.provider.Generate(ctx, next, specs)
		if err != nil {
			return crash(fmt.Errorf("generate: %w", err))
		}
		rep.Turns++
		if resp.Content != "" {
			rep.Summary = resp.Content
			log.Debug("provider replied", "content", resp.Content)
		}

		if resp.ToolCall != nil {
			result := c.tools.Call(ctx, *resp.ToolCall)
			rep.ToolCalls++
			log.Info("tool call", "tool", resp.ToolCall.Name, "success", result.Success, "count", rep.ToolCalls)
			if err := save(false); err != nil {
				return crash(err)
			}
			if next, err = c.continuePrompt(result); err != nil {
				return crash(err)
			}
		} else {
			if err := save(false); err != nil {
				return crash(err)
			}
			if next, err = prompt.Execute(prompt.Nudge, c.opts.PromptDir, nil); err != nil {
				return crash(err)
			}
		}

		if strings.Contains(strings.ToLower(resp.Content), "finish") {
			rep.State = LoopFinished
			if err := save(true); err != nil {
				return crash(err)
			}
			log.Info("coder finished", "tool_calls", rep.ToolCalls, "turns", rep.Turns)
			return rep, nil
		}
	}
}

// enter loads a checkpoint for this cycle or starts fresh, and returns the
// first prompt.
func (c *Coder) enter(rep *LoopReport, t task.Task, workspace string, pc pipeline.Context, attempt int, log *slog.Logger) (string, error) {
	cp, found, err := checkpoint.Load(rep.Checkpoint)
	if err != nil {
		return "", err
	}
	if found && cp.Attempt != 0 && cp.Attempt != attempt {
		log.Debug("ignoring checkpoint from another cycle", "checkpoint_attempt", cp.Attempt)
		found = false
	}

	if found {
		msgs, err := provider.DecodeHistory(cp.Messages)
		if err != nil {
			log.Warn("unreadable checkpoint history, starting fresh", "path", rep.Checkpoint, "error", err)
			found = false
		} else {
			c.provider.SetHistory(msgs)
			rep.ToolCalls = cp.ToolCallCount
			if cp.Done {
				rep.State = LoopFinished
				rep.Summary = "already completed in a previous session"
				log.Info("checkpoint marks cycle complete, skipping", "tool_calls", rep.ToolCalls)
				return "", nil
			}
			rep.State = LoopResumed
			log.Info("resuming from checkpoint", "path", rep.Checkpoint, "tool_calls", rep.ToolCalls)
			return prompt.Execute(prompt.Resume, c.opts.PromptDir, prompt.Vars{"tool_calls": strconv.Itoa(rep.ToolCalls)})
		}
	}

	c.provider.Reset()
	rep.State = LoopFresh
	log.Info("starting fresh", "checkpoint", rep.Checkpoint)
	return prompt.Execute(prompt.Coder, c.opts.PromptDir, TaskVars(t, workspace, pc))
}

func (c *Coder) continuePrompt(result any) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return prompt.Execute(prompt.Continue, c.opts.PromptDir, prompt.Vars{"result": string(data)})
}

// TaskVars builds the template variables shared by the agent prompts.
func TaskVars(t task.Task, workspace string, pc pipeline.Context) prompt.Vars {
	ws := workspace
	if abs, err := filepath.Abs(workspace); err == nil {
		ws = abs
	}
	return prompt.Vars{
		"task_id":             t.ID,
		"story_id":            t.ID,
		"title":               t.Title,
		"description":         t.Description,
		"acceptance_criteria": prompt.Bullets(t.AcceptanceCriteria),
		"dependencies":        strings.Join(t.Dependencies, ", "),
		"workspace":           ws,
		"attempt":             strconv.Itoa(max(pc.Int(pipeline.KeyAttempt), 1)),
		"global_rules":        strings.Join(pc.Strings(pipeline.KeyGlobalRules), "\n\n"),
		"completed_tasks":     strings.Join(pc.Strings(pipeline.KeyCompletedTasks), ", "),
		"feedback":            prompt.Bullets(pc.Strings(pipeline.KeyFeedback)),
	}
}
