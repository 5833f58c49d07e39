// Package tools defines the tool contract and the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Tool defines the interface that all tools must implement
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a brief description of what the tool does
	Description() string

	// Execute runs the tool with the given parameters
	Execute(ctx context.Context, params json.RawMessage) (string, error)

	// Parameters returns a struct that defines the tool's parameters
	// This struct will be used for schema generation
	Parameters() interface{}
}

// SchemaProvider is implemented by tools that carry their own JSON schema
// instead of deriving one from the Parameters struct. Remote tools use this
// since their schema arrives from elsewhere.
type SchemaProvider interface {
	ParametersSchema() map[string]any
}

// Status classifies a tool execution outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the outcome of executing one tool call. Failures are results
// too: a failing tool produces a StatusError result whose payload describes
// the failure, it never aborts the surrounding turn.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Duration   time.Duration   `json:"duration"`
}

// ErrorResult builds a StatusError result with the message wrapped in a
// JSON payload.
func ErrorResult(callID, name, message string, duration time.Duration) Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return Result{
		ToolCallID: callID,
		Name:       name,
		Status:     StatusError,
		Payload:    payload,
		Duration:   duration,
	}
}

// ToolError represents a structured error from a tool
type ToolError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NewToolError creates a new tool error
func NewToolError(code, message string) *ToolError {
	return &ToolError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the error
func (e *ToolError) WithDetail(key string, value interface{}) *ToolError {
	e.Details[key] = value
	return e
}
