package provider

import (
	"context"
	"encoding/json"

	"github.com/lucasnoah/ada/internal/toolbox"
)

// Mock replays a fixed script of responses. Once the script is exhausted it
// answers with Final. Resuming from a history continues the script where the
// recorded assistant turns left off.
type Mock struct {
	Script []Response
	Final  Response

	// Prompts records every prompt received, in order.
	Prompts []string

	history []Message
	step    int
}

// NewMock returns a mock that plays script and then finishes.
func NewMock(script ...Response) *Mock {
	return &Mock{
		Script: script,
		Final:  Response{Content: "FINISH: all steps complete", FinishReason: "stop"},
	}
}

func (m *Mock) Generate(ctx context.Context, prompt string, _ []toolbox.Spec) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.Prompts = append(m.Prompts, prompt)
	m.history = append(m.history, Message{Role: RoleUser, Content: prompt})

	resp := m.Final
	if m.step < len(m.Script) {
		resp = m.Script[m.step]
	}
	m.step++

	m.history = append(m.history, Message{Role: RoleAssistant, Content: resp.Content, ToolCall: resp.ToolCall})
	return resp, nil
}

func (m *Mock) Reset() {
	m.history = nil
	m.step = 0
}

func (m *Mock) History() []Message { return cloneHistory(m.history) }

func (m *Mock) SetHistory(msgs []Message) {
	m.history = cloneHistory(msgs)
	m.step = 0
	for _, msg := range msgs {
		if msg.Role == RoleAssistant {
			m.step++
		}
	}
}

// ToolStep builds a scripted response that calls a tool.
func ToolStep(content, name string, args any) Response {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return Response{
		Content:      content,
		ToolCall:     &toolbox.Call{Name: name, Arguments: raw},
		FinishReason: "tool_calls",
	}
}

// DemoScript is the offline walkthrough used when no provider is configured:
// explore the workspace, look for open work, record a change and finish.
func DemoScript() []Response {
	return []Response{
		ToolStep("I'll start by exploring the repository structure.",
			toolbox.ToolListFiles, map[string]string{"directory": ""}),
		ToolStep("Let me look for outstanding TODO markers.",
			toolbox.ToolSearch, map[string]string{"pattern": "TODO"}),
		ToolStep("Recording the change summary.",
			toolbox.ToolWriteFile, map[string]string{
				"path":    "CHANGES.md",
				"content": "# Changes\n\n- Automated pass by ada (offline mode).\n",
			}),
	}
}
