package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/scrivly/agentloop/internal/backoff"
	"github.com/scrivly/agentloop/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(
		llm.WithAPIKey("test-key"),
		llm.WithBaseURL(srv.URL),
		llm.WithModel("test-model"),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// No real waiting between retry attempts.
	client.policy = backoff.Policy{InitialMs: 1, MaxMs: 1, Factor: 1, Jitter: 0}
	return client, srv
}

func TestRespondNormalizesToolCalls(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "calculator", "arguments": "{\"a\":2,\"b\":2,\"op\":\"add\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})

	resp, err := client.Respond(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("what is 2+2")}},
		Tools:    []llm.ToolDefinition{{Name: "calculator", Description: "does math"}},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if resp.Content != nil {
		t.Errorf("Content = %q, want nil", *resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "calculator" {
		t.Errorf("tool call = %+v", tc)
	}
	var args struct {
		A, B float64
		Op   string
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestRespondOmitsToolsWhenNil(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, present := body["tools"]; present {
			t.Error("tools key sent on a request with nil Tools")
		}
		if _, present := body["tool_choice"]; present {
			t.Error("tool_choice sent on a request with nil Tools")
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	})

	resp, err := client.Respond(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("hello")}},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.FinishReason != llm.FinishStop {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if llm.GetStringValue(resp.Content) != "hi" {
		t.Errorf("Content = %q, want hi", llm.GetStringValue(resp.Content))
	}
}

func TestRespondRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	resp, err := client.Respond(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("hi")}},
	})
	if err != nil {
		t.Fatalf("Respond after retry: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if llm.GetStringValue(resp.Content) != "ok" {
		t.Errorf("Content = %q", llm.GetStringValue(resp.Content))
	}
}

func TestRespondDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad schema"}}`)
	})

	_, err := client.Respond(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("hi")}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*llm.APIError)
	if !ok {
		t.Fatalf("error type = %T, want *llm.APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d", apiErr.Status)
	}
	if apiErr.Retryable() {
		t.Error("400 reported as retryable")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestRespondStreamAssemblesContentAndToolCalls(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["stream"] != true {
			t.Error("stream flag not set")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"content":"Let me "},"finish_reason":""}]}`,
			`{"choices":[{"index":0,"delta":{"content":"check."},"finish_reason":""}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"calculator","arguments":"{\"a\":2,"}}]},"finish_reason":""}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"b\":2,\"op\":\"add\"}"}}]},"finish_reason":""}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var tokens []string
	resp, err := client.RespondStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("2+2?")}},
		Tools:    []llm.ToolDefinition{{Name: "calculator", Description: "does math"}},
	}, func(text string) {
		tokens = append(tokens, text)
	})
	if err != nil {
		t.Fatalf("RespondStream: %v", err)
	}

	if got := strings.Join(tokens, ""); got != "Let me check." {
		t.Errorf("streamed tokens = %q", got)
	}
	if llm.GetStringValue(resp.Content) != "Let me check." {
		t.Errorf("final content = %q", llm.GetStringValue(resp.Content))
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_9" || tc.Name != "calculator" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Arguments) != `{"a":2,"b":2,"op":"add"}` {
		t.Errorf("merged arguments = %s", tc.Arguments)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestRespondStreamRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resp, err := client.RespondStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("hi")}},
	}, nil)
	if err != nil {
		t.Fatalf("RespondStream after retry: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if llm.GetStringValue(resp.Content) != "ok" {
		t.Errorf("Content = %q", llm.GetStringValue(resp.Content))
	}
}

func TestRespondStreamExhaustsRetriesOnPersistentError(t *testing.T) {
	var attempts atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	})

	_, err := client.RespondStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.StringPtr("hi")}},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", apiErr.Status)
	}
	if !apiErr.Retryable() {
		t.Error("429 should be retryable")
	}
	// MaxRetries defaults to 3, so a persistent 429 costs 4 attempts.
	if got := attempts.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

func TestBuildRequestSerializesAssistantToolCalls(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []wireMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Messages) != 3 {
			t.Fatalf("got %d messages, want 3", len(body.Messages))
		}
		assistant := body.Messages[1]
		if assistant.Content != nil {
			t.Errorf("assistant content = %q, want null", *assistant.Content)
		}
		if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
			t.Errorf("assistant tool_calls = %+v", assistant.ToolCalls)
		}
		toolMsg := body.Messages[2]
		if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || toolMsg.Name != "calculator" {
			t.Errorf("tool message = %+v", toolMsg)
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]}`)
	})

	_, err := client.Respond(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: llm.StringPtr("2+2?")},
			{Role: llm.RoleAssistant, Content: nil, ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "calculator", Arguments: json.RawMessage(`{"a":2,"b":2,"op":"add"}`)},
			}},
			{Role: llm.RoleTool, Content: llm.StringPtr(`{"result":4}`), Name: "calculator", ToolCallID: "call_1"},
		},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
}
