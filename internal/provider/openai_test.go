package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/ada/internal/toolbox"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", MaxRetries: 2})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "http://x", Model: "m"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(ClientConfig{APIKey: "k", Model: "m"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{APIKey: "k", BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestClient_ToolCallRoundTrip(t *testing.T) {
	var requests []chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &req))
		requests = append(requests, req)

		if len(requests) == 1 {
			_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
				"tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.go\"}"}}]}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"FINISH"}}]}`)
	})

	specs := []toolbox.Spec{{Name: "read_file", Description: "read", Parameters: json.RawMessage(`{"type":"object"}`)}}
	ctx := context.Background()

	r, err := c.Generate(ctx, "do the task", specs)
	require.NoError(t, err)
	require.NotNil(t, r.ToolCall)
	assert.Equal(t, "call_1", r.ToolCall.ID)
	assert.Equal(t, "read_file", r.ToolCall.Name)
	assert.JSONEq(t, `{"path":"a.go"}`, string(r.ToolCall.Arguments))

	r, err = c.Generate(ctx, `{"success":true}`, specs)
	require.NoError(t, err)
	assert.Equal(t, "FINISH", r.Content)
	assert.Nil(t, r.ToolCall)

	require.Len(t, requests, 2)
	assert.Equal(t, "auto", requests[0].ToolChoice)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "function", requests[0].Tools[0].Type)

	second := requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleUser, second[0].Role)
	assert.Equal(t, RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)

	assert.Len(t, c.History(), 4)
	c.Reset()
	assert.Empty(t, c.History())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`)
	})

	r, err := c.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Content)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"bad key"}`)
	})

	_, err := c.Generate(context.Background(), "hi", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, c.History())
}

func TestClient_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})
	_, err := c.Generate(context.Background(), "hi", nil)
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, "500ms", backoff(1, nil).String())
	assert.Equal(t, "1s", backoff(2, nil).String())
	assert.Equal(t, "30s", backoff(20, nil).String())
}
