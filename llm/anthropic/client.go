// Package anthropic implements the provider contract for the Anthropic
// Messages API. The API differs structurally from chat-completions: the
// system prompt is a top-level field, assistant output is a list of content
// blocks, and tool results travel inside user messages.
package anthropic

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
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultTimeout = 60 * time.Second
	defaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"

	defaultMaxTokens = 4096
)

// Client implements llm.Provider against the Anthropic Messages API.
type Client struct {
	options    llm.ClientOptions
	httpClient *http.Client
	policy     backoff.Policy
}

// NewClient creates an Anthropic client.
func NewClient(opts ...llm.ClientOption) (*Client, error) {
	options := llm.ClientOptions{
		BaseURL:      defaultBaseURL,
		Timeout:      defaultTimeout,
		MaxRetries:   3,
		DefaultModel: defaultModel,
		Headers:      make(map[string]string),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.APIKey == "" {
		options.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if options.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key not provided (set ANTHROPIC_API_KEY)")
		}
	}

	return &Client{
		options:    options,
		httpClient: &http.Client{Timeout: options.Timeout},
		policy:     backoff.DefaultPolicy(),
	}, nil
}

// Name identifies the backend.
func (c *Client) Name() string {
	return "anthropic"
}

// wire types for the Messages API

type contentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "thinking"
	Thinking string `json:"thinking,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *wireUsage     `json:"usage,omitempty"`
}

// Respond sends a messages request and returns the normalized response.
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

	return normalize(&wire), nil
}

// RespondStream sends a streaming request, delivering text deltas through
// onDelta, and returns the final assembled response.
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

	// Stream event payloads. Blocks arrive as content_block_start followed
	// by deltas indexed by block position; tool_use input streams as
	// partial JSON text that must be accumulated per block.
	type streamEvent struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Thinking    string `json:"thinking"`
			PartialJSON string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
		ContentBlock *contentBlock `json:"content_block,omitempty"`
		Usage        *wireUsage    `json:"usage,omitempty"`
	}

	var text, thinking strings.Builder
	var sawText bool
	var stopReason string
	var usage *wireUsage
	blocks := map[int]*contentBlock{}
	inputs := map[int]*strings.Builder{}
	maxIdx := -1

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				blocks[ev.Index] = ev.ContentBlock
				inputs[ev.Index] = &strings.Builder{}
				if ev.Index > maxIdx {
					maxIdx = ev.Index
				}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					sawText = true
					text.WriteString(ev.Delta.Text)
					if onDelta != nil {
						onDelta(ev.Delta.Text)
					}
				}
			case "thinking_delta":
				thinking.WriteString(ev.Delta.Thinking)
			case "input_json_delta":
				if b, ok := inputs[ev.Index]; ok {
					b.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				usage = ev.Usage
			}
		case "message_stop":
			// terminal event; the scan loop drains naturally
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &llm.APIError{Provider: "anthropic", Message: fmt.Sprintf("stream read: %v", err)}
	}

	final := wireResponse{StopReason: stopReason, Usage: usage}
	if thinking.Len() > 0 {
		final.Content = append(final.Content, contentBlock{Type: "thinking", Thinking: thinking.String()})
	}
	if sawText {
		final.Content = append(final.Content, contentBlock{Type: "text", Text: text.String()})
	}
	for i := 0; i <= maxIdx; i++ {
		if b, ok := blocks[i]; ok {
			block := *b
			if in := inputs[i]; in != nil && in.Len() > 0 {
				block.Input = json.RawMessage(in.String())
			}
			final.Content = append(final.Content, block)
		}
	}

	return normalize(&final), nil
}

// Close cleans up resources
func (c *Client) Close() error {
	return nil
}

// buildRequest translates the normalized request into Messages API shape.
// System messages move to the top-level system field and tool-role
// messages fold into user messages as tool_result blocks.
func (c *Client) buildRequest(req *llm.Request, stream bool) *wireRequest {
	wire := &wireRequest{
		Model:     c.options.DefaultModel,
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		wire.Temperature = &temp
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += llm.GetStringValue(m.Content)

		case llm.RoleUser:
			wire.Messages = append(wire.Messages, wireMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: llm.GetStringValue(m.Content)}},
			})

		case llm.RoleAssistant:
			var content []contentBlock
			if m.Content != nil && *m.Content != "" {
				content = append(content, contentBlock{Type: "text", Text: *m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			wire.Messages = append(wire.Messages, wireMessage{Role: "assistant", Content: content})

		case llm.RoleTool:
			block := contentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   llm.GetStringValue(m.Content),
			}
			// Consecutive tool results belong in one user message.
			if n := len(wire.Messages); n > 0 && wire.Messages[n-1].Role == "user" && len(wire.Messages[n-1].Content) > 0 && wire.Messages[n-1].Content[0].Type == "tool_result" {
				wire.Messages[n-1].Content = append(wire.Messages[n-1].Content, block)
			} else {
				wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: []contentBlock{block}})
			}
		}
	}

	// Nil means withheld: omit the tools field entirely.
	if req.Tools != nil {
		for _, t := range req.Tools {
			schema := t.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			wire.Tools = append(wire.Tools, wireTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
	}

	return wire
}

func normalize(wire *wireResponse) *llm.Response {
	resp := &llm.Response{}

	var text, reasoning strings.Builder
	var sawText bool
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			sawText = true
			text.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	if sawText {
		resp.Content = llm.StringPtr(text.String())
	}
	resp.Reasoning = reasoning.String()

	switch wire.StopReason {
	case "tool_use":
		resp.FinishReason = llm.FinishToolCalls
	case "max_tokens":
		resp.FinishReason = llm.FinishLength
	case "end_turn", "stop_sequence", "":
		resp.FinishReason = llm.FinishStop
	default:
		resp.FinishReason = llm.FinishError
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = llm.FinishToolCalls
	}

	if wire.Usage != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		}
	}

	return resp
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.options.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	for k, v := range c.options.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// openStream connects a streaming request with the same bounded retries as
// post. A failed attempt never consumed stream bytes, so reconnecting is
// safe; mid-stream failures surface to the caller.
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
			lastErr = &llm.APIError{Provider: "anthropic", Message: err.Error()}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			apiErr := &llm.APIError{Provider: "anthropic", Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
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
			lastErr = &llm.APIError{Provider: "anthropic", Message: err.Error()}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &llm.APIError{Provider: "anthropic", Message: fmt.Sprintf("read response: %v", err)}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &llm.APIError{Provider: "anthropic", Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
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
