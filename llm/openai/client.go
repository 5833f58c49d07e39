// Package openai implements the provider contract for the OpenAI
// chat-completions API and for backends that speak the same wire format.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/scrivly/agentloop/internal/backoff"
	"github.com/scrivly/agentloop/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
	defaultModel   = "gpt-4o"
)

// Client implements llm.Provider against an OpenAI-compatible endpoint.
type Client struct {
	name       string
	options    llm.ClientOptions
	httpClient *http.Client
	policy     backoff.Policy
}

// NewClient creates a client for api.openai.com.
func NewClient(opts ...llm.ClientOption) (*Client, error) {
	return NewCompatible("openai", defaultBaseURL, "OPENAI_API_KEY", defaultModel, opts...)
}

// NewCompatible creates a client for any backend that speaks the OpenAI
// chat-completions wire format, differing only in base URL, key source and
// default model.
func NewCompatible(name, baseURL, apiKeyEnv, model string, opts ...llm.ClientOption) (*Client, error) {
	options := llm.ClientOptions{
		BaseURL:      baseURL,
		Timeout:      defaultTimeout,
		MaxRetries:   3,
		DefaultModel: model,
		Headers:      make(map[string]string),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.APIKey == "" {
		options.APIKey = os.Getenv(apiKeyEnv)
		if options.APIKey == "" {
			return nil, fmt.Errorf("%s API key not provided (set %s)", name, apiKeyEnv)
		}
	}
	if options.DefaultModel == "" {
		options.DefaultModel = model
	}

	return &Client{
		name:       name,
		options:    options,
		httpClient: &http.Client{Timeout: options.Timeout},
		policy:     backoff.DefaultPolicy(),
	}, nil
}

// Name identifies the backend.
func (c *Client) Name() string {
	return c.name
}

// wire types for the chat-completions format

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	// Reasoning models expose their chain of thought under one of these,
	// depending on the backend.
	Reasoning        string `json:"reasoning,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	Message      wireMessage  `json:"message"`
	Delta        *wireMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Choices []wireChoice `json:"choices"`
	Usage   *llm.Usage   `json:"usage,omitempty"`
}

// Respond sends a chat request and returns the normalized response.
func (c *Client) Respond(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, &llm.APIError{Provider: c.name, Message: "response contained no choices"}
	}

	return c.normalize(wire.Choices[0].Message, wire.Choices[0].FinishReason, wire.Usage), nil
}

// RespondStream sends a streaming chat request, delivering content tokens
// through onDelta, and returns the final assembled response.
func (c *Client) RespondStream(ctx context.Context, req *llm.Request, onDelta llm.OnDelta) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.openStream(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content, reasoning strings.Builder
	var sawContent bool
	var finish string
	var usage *llm.Usage
	calls := map[int]*wireToolCall{}
	maxIdx := -1

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed events
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			sawContent = true
			content.WriteString(*choice.Delta.Content)
			if onDelta != nil {
				onDelta(*choice.Delta.Content)
			}
		}
		if choice.Delta.Reasoning != "" {
			reasoning.WriteString(choice.Delta.Reasoning)
		} else if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
		}
		// Tool calls stream as fragments keyed by index: the first
		// fragment carries id+name, later ones append argument text.
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			cur, ok := calls[idx]
			if !ok {
				cur = &wireToolCall{}
				calls[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			cur.Function.Arguments += tc.Function.Arguments
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &llm.APIError{Provider: c.name, Message: fmt.Sprintf("stream read: %v", err)}
	}

	final := wireMessage{Role: string(llm.RoleAssistant), Reasoning: reasoning.String()}
	if sawContent {
		final.Content = llm.StringPtr(content.String())
	}
	for i := 0; i <= maxIdx; i++ {
		if tc, ok := calls[i]; ok {
			final.ToolCalls = append(final.ToolCalls, *tc)
		}
	}

	return c.normalize(final, finish, usage), nil
}

// Close cleans up resources
func (c *Client) Close() error {
	return nil
}

func (c *Client) buildRequest(req *llm.Request, stream bool) map[string]any {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		messages[i] = wm
	}

	body := map[string]any{
		"model":    c.options.DefaultModel,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if stream {
		body["stream"] = true
	}
	// A nil tool list means tools are withheld: the keys are omitted
	// entirely rather than sent empty.
	if req.Tools != nil {
		wireTools := make([]wireTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var wt wireTool
			wt.Type = "function"
			wt.Function.Name = t.Name
			wt.Function.Description = t.Description
			wt.Function.Parameters = t.Parameters
			wireTools = append(wireTools, wt)
		}
		if len(wireTools) > 0 {
			body["tools"] = wireTools
			body["tool_choice"] = "auto"
		}
	}

	return body
}

func (c *Client) normalize(msg wireMessage, finish string, usage *llm.Usage) *llm.Response {
	resp := &llm.Response{
		Content:   msg.Content,
		Reasoning: msg.Reasoning,
		Usage:     usage,
	}
	if resp.Reasoning == "" {
		resp.Reasoning = msg.ReasoningContent
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	switch finish {
	case "tool_calls", "function_call":
		resp.FinishReason = llm.FinishToolCalls
	case "length":
		resp.FinishReason = llm.FinishLength
	case "stop", "":
		resp.FinishReason = llm.FinishStop
	default:
		resp.FinishReason = llm.FinishError
	}
	// Some compatible backends report finish_reason=stop even when the
	// message carries tool calls; the calls are authoritative.
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = llm.FinishToolCalls
	}

	return resp
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.options.APIKey)
	if c.options.Organization != "" {
		req.Header.Set("OpenAI-Organization", c.options.Organization)
	}
	for k, v := range c.options.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// openStream connects a streaming request with the same bounded retries as
// post. Retrying is safe here because a failed attempt never consumed any
// stream bytes; once a 200 arrives the stream is handed off and mid-stream
// failures surface to the caller.
func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.options.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if err := backoff.Sleep(ctx, c.policy, attempt-1); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &llm.APIError{Provider: c.name, Message: err.Error()}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			apiErr := &llm.APIError{Provider: c.name, Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
			if !apiErr.Retryable() {
				return nil, apiErr
			}
			lastErr = apiErr
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post executes the request with bounded, jittered retries. Only transport
// failures and retryable statuses are retried; a 4xx is surfaced on the
// first attempt since resending an invalid request cannot help.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.options.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if err := backoff.Sleep(ctx, c.policy, attempt-1); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &llm.APIError{Provider: c.name, Message: err.Error()}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &llm.APIError{Provider: c.name, Message: fmt.Sprintf("read response: %v", err)}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &llm.APIError{Provider: c.name, Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
			if !apiErr.Retryable() {
				return nil, apiErr
			}
			lastErr = apiErr
			continue
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func apiErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}
