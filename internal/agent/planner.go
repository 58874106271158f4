package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/prompt"
	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/task"
)

const DefaultPlannerToolCalls = 5

// ErrNoPlan is returned by ExtractPlan when a reply holds no task list.
var ErrNoPlan = errors.New("no task plan in reply")

var fencedJSON = regexp.MustCompile("(?s)```(?:json|jsonc)?[ \t]*\r?\n(.*?)```")

// PlannerOptions tunes the planner loop.
type PlannerOptions struct {
	MaxToolCalls int
	PromptDir    string
	Logger       *slog.Logger
}

// Planner explores the repository through read-only tools and turns a
// story into an ordered list of tasks.
type Planner struct {
	provider provider.Provider
	tools    Tools
	opts     PlannerOptions
	log      *slog.Logger
}

// NewPlanner expects tools to be restricted to read-only operations.
func NewPlanner(p provider.Provider, tools Tools, opts PlannerOptions) *Planner {
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultPlannerToolCalls
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Planner{provider: p, tools: tools, opts: opts, log: log}
}

func (p *Planner) Name() string { return "planner" }

func (p *Planner) Run(ctx context.Context, story task.Task, workspace string, pc pipeline.Context) (pipeline.StageResult, error) {
	tasks, err := p.Plan(ctx, story, workspace, pc)
	if errors.Is(err, ErrNoPlan) {
		return pipeline.StageResult{
			Success: false,
			Output:  []string{err.Error()},
		}, nil
	}
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{
		Success:        true,
		Output:         tasks,
		ContextUpdates: map[string]any{pipeline.KeyGeneratedTasks: tasks},
	}, nil
}

// Plan runs the exploration loop and returns the parsed tasks.
func (p *Planner) Plan(ctx context.Context, story task.Task, workspace string, pc pipeline.Context) ([]task.Task, error) {
	log := p.log.With("story", story.ID, "stage", p.Name())
	p.provider.Reset()

	vars := TaskVars(story, workspace, pc)
	vars["max_tool_calls"] = strconv.Itoa(p.opts.MaxToolCalls)
	next, err := prompt.Execute(prompt.Planner, p.opts.PromptDir, vars)
	if err != nil {
		return nil, err
	}

	specs := p.tools.Specs()
	calls := 0
	asked := false
	var parseErr error
	for turn := 0; turn < 3*p.opts.MaxToolCalls; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offer := specs
		if calls >= p.opts.MaxToolCalls {
			offer = nil
		}
		resp, err := p.provider.Generate(ctx, next, offer)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}

		tasks, err := ExtractPlan(resp.Content)
		if err == nil {
			log.Info("plan ready", "tasks", len(tasks), "tool_calls", calls)
			return tasks, nil
		}
		if !errors.Is(err, ErrNoPlan) {
			parseErr = err
			log.Warn("unparseable plan", "error", err)
		}
		if asked {
			break
		}

		switch {
		case resp.ToolCall != nil && calls < p.opts.MaxToolCalls:
			result := p.tools.Call(ctx, *resp.ToolCall)
			calls++
			log.Debug("tool call", "tool", resp.ToolCall.Name, "success", result.Success, "count", calls)
			data, err := json.Marshal(result)
			if err != nil {
				return nil, fmt.Errorf("encode tool result: %w", err)
			}
			tmpl := prompt.Continue
			if calls >= p.opts.MaxToolCalls {
				tmpl, asked = prompt.PlanNow, true
			}
			next, err = prompt.Execute(tmpl, p.opts.PromptDir, prompt.Vars{"result": string(data)})
			if err != nil {
				return nil, err
			}
		case resp.ToolCall == nil && !strings.Contains(strings.ToLower(resp.Content), "finish"):
			next, err = prompt.Execute(prompt.Nudge, p.opts.PromptDir, nil)
			if err != nil {
				return nil, err
			}
		default:
			asked = true
			next, err = prompt.Execute(prompt.PlanNow, p.opts.PromptDir, nil)
			if err != nil {
				return nil, err
			}
		}
	}
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, parseErr)
	}
	return nil, ErrNoPlan
}

// ExtractPlan pulls the task list out of a fenced json block. A bare array
// is accepted when no fence is present. Comments and trailing commas are
// tolerated.
func ExtractPlan(content string) ([]task.Task, error) {
	var body string
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		body = m[1]
	} else {
		start := strings.Index(content, "[")
		end := strings.LastIndex(content, "]")
		if start < 0 || end <= start {
			return nil, ErrNoPlan
		}
		body = content[start : end+1]
	}
	tasks, err := task.ParseList([]byte(body))
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNoPlan
	}
	for i := range tasks {
		tasks[i].Kind = task.KindTask
	}
	return tasks, nil
}
