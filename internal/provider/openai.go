package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lucasnoah/ada/internal/toolbox"
)

// ClientConfig configures an OpenAI-compatible chat completions client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int

	// RequestsPerMinute paces outgoing requests. Zero disables pacing.
	RequestsPerMinute int
	MaxRetries        int
	Timeout           time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to any endpoint implementing the chat completions API
// (OpenAI, Groq, local gateways).
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
	history []Message
}

// ErrMissingAPIKey is returned when a hosted provider has no key.
var ErrMissingAPIKey = errors.New("API key not provided")

// APIError is a non-success response from the completions endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completions API returned %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	c := &Client{cfg: cfg, http: cfg.HTTPClient, log: cfg.Logger}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

func (c *Client) Reset()                    { c.history = nil }
func (c *Client) History() []Message        { return cloneHistory(c.history) }
func (c *Client) SetHistory(msgs []Message) { c.history = cloneHistory(msgs) }

// Wire format of the chat completions API.
type (
	chatRequest struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Tools       []chatTool    `json:"tools,omitempty"`
		ToolChoice  string        `json:"tool_choice,omitempty"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}
	chatMessage struct {
		Role       string         `json:"role"`
		Content    *string        `json:"content"`
		ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
		ToolCallID string         `json:"tool_call_id,omitempty"`
	}
	chatTool struct {
		Type     string       `json:"type"`
		Function toolbox.Spec `json:"function"`
	}
	chatToolCall struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	chatResponse struct {
		Choices []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
	}
)

// nextMessage turns prompt into the next request message. A prompt that
// follows a tool call is its result and must be sent with the tool role.
func (c *Client) nextMessage(prompt string) Message {
	if n := len(c.history); n > 0 {
		last := c.history[n-1]
		if last.Role == RoleAssistant && last.ToolCall != nil {
			return Message{Role: RoleTool, Content: prompt, ToolCallID: last.ToolCall.ID}
		}
	}
	return Message{Role: RoleUser, Content: prompt}
}

func toWire(msgs []Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		cm := chatMessage{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}
		if m.ToolCall != nil {
			tc := chatToolCall{ID: m.ToolCall.ID, Type: "function"}
			tc.Function.Name = m.ToolCall.Name
			tc.Function.Arguments = string(m.ToolCall.Arguments)
			cm.ToolCalls = []chatToolCall{tc}
			if content == "" {
				cm.Content = nil
			}
		}
		out = append(out, cm)
	}
	return out
}

func (c *Client) Generate(ctx context.Context, prompt string, tools []toolbox.Spec) (Response, error) {
	msg := c.nextMessage(prompt)
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    toWire(append(c.History(), msg)),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, chatTool{Type: "function", Function: t})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var resp chatResponse
	if err := c.send(ctx, body, &resp); err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("completions API returned no choices")
	}

	choice := resp.Choices[0]
	out := Response{FinishReason: choice.FinishReason}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	// Only the first call is honoured; the loop executes one tool per turn.
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCall = &toolbox.Call{ID: id, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
		if len(choice.Message.ToolCalls) > 1 {
			c.log.Debug("dropping extra tool calls", "count", len(choice.Message.ToolCalls)-1)
		}
	}

	c.history = append(c.history, msg, Message{Role: RoleAssistant, Content: out.Content, ToolCall: out.ToolCall})
	return out, nil
}

func (c *Client) send(ctx context.Context, body []byte, out *chatResponse) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, lastErr)
			c.log.Warn("retrying completion request", "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		err := c.post(ctx, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
	}
	return fmt.Errorf("completion request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, url string, body []byte, out *chatResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				return &retryAfterError{APIError: apiErr, after: time.Duration(secs) * time.Second}
			}
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type retryAfterError struct {
	*APIError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.APIError }

// backoff doubles from 500ms, capped at 30s, and honours Retry-After.
func backoff(attempt int, err error) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.after > 0 {
		return min(ra.after, 30*time.Second)
	}
	d := 500 * time.Millisecond << (attempt - 1)
	return min(d, 30*time.Second)
}
