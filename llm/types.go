package llm

import (
	"encoding/json"
)

// Role represents the role of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the normalized reason a provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Message is the provider-facing view of one conversation entry.
// Content is a pointer so an assistant message that carries only tool
// calls serializes with a null content field instead of an empty string —
// several backends reject mixed content+tool_calls otherwise.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`         // tool messages: tool name
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages: call being answered
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages requesting tools
}

// ToolCall is a normalized tool invocation request emitted by a model.
// Adapters translate whatever wire shape their backend uses into this;
// nothing outside an adapter ever sees a vendor-specific shape.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable tool as shown to a provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is a normalized chat request. A nil Tools slice means tools are
// withheld from this call entirely — the adapter must not send an empty
// tool list, which some backends treat differently from no tools at all.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
}

// Response is the normalized provider response.
type Response struct {
	Content      *string
	ToolCalls    []ToolCall
	Reasoning    string
	FinishReason FinishReason
	Usage        *Usage
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StringPtr is a helper function to get a pointer to a string
func StringPtr(s string) *string {
	return &s
}

// GetStringValue safely gets string value from pointer
func GetStringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
