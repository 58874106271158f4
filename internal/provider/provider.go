// Package provider defines the reasoning-provider contract used by the agent
// stages and ships a scripted mock and an OpenAI-compatible HTTP client.
package provider

import (
	"context"
	"encoding/json"

	"github.com/lucasnoah/ada/internal/toolbox"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation history. The history is what a
// checkpoint persists, so the shape must stay stable across releases.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCall   *toolbox.Call `json:"tool_call,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Response is one provider turn. ToolCall is nil for text-only turns.
type Response struct {
	Content      string
	ToolCall     *toolbox.Call
	FinishReason string
}

// Provider is a stateful conversation with a reasoning model. Each Generate
// appends the prompt and the reply to the history.
type Provider interface {
	Generate(ctx context.Context, prompt string, tools []toolbox.Spec) (Response, error)
	Reset()
	History() []Message
	SetHistory(msgs []Message)
}

// EncodeHistory serialises a history for a checkpoint.
func EncodeHistory(msgs []Message) (json.RawMessage, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

// DecodeHistory is the inverse of EncodeHistory.
func DecodeHistory(raw json.RawMessage) ([]Message, error) {
	var msgs []Message
	if len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func cloneHistory(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
