// Package agent runs turns: it drives the provider, executes tool calls
// sequentially, and records everything in the history store. Consumers
// observe a turn through its event stream.
package agent

import (
	"time"

	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/tools"
)

// EventType classifies turn events.
type EventType string

const (
	// EventToken carries one increment of streamed assistant text.
	EventToken EventType = "token"
	// EventToolStarted fires just before a tool call executes.
	EventToolStarted EventType = "tool_started"
	// EventToolFinished fires when a tool call completes, ok or not.
	EventToolFinished EventType = "tool_finished"
	// EventMessageAppended fires after a message lands in history.
	EventMessageAppended EventType = "message_appended"
	// EventComment carries assistant narration recorded between tools.
	EventComment EventType = "comment"
	// EventTurnDone terminates a turn that produced a final answer.
	EventTurnDone EventType = "turn_done"
	// EventTurnAborted terminates a turn that could not finish normally.
	EventTurnAborted EventType = "turn_aborted"
)

// TurnEvent is one observation from a running turn. Exactly one of
// EventTurnDone or EventTurnAborted is the last event on every stream.
type TurnEvent struct {
	Type EventType `json:"type"`

	// EventToken
	Token string `json:"token,omitempty"`

	// EventToolStarted / EventToolFinished
	ToolName   string       `json:"tool_name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Status     tools.Status `json:"status,omitempty"`

	// EventMessageAppended
	Seq  int64    `json:"seq,omitempty"`
	Role llm.Role `json:"role,omitempty"`

	// EventTurnDone and EventComment carry text, EventTurnAborted the
	// reason.
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Config controls turn behavior.
type Config struct {
	// SystemPrompt is appended once as the first message of a new session.
	SystemPrompt string
	// MaxRounds bounds provider round-trips within one turn.
	MaxRounds int
	// ToolTimeout bounds each individual tool execution.
	ToolTimeout time.Duration
	// TurnTimeout bounds the whole turn.
	TurnTimeout time.Duration
	// CommentBetweenTools makes an extra provider call after each tool
	// result, with tools withheld, so the model can narrate progress
	// without being able to chain another call in the same breath.
	CommentBetweenTools bool
	Temperature         float32
	MaxTokens           int
}

// DefaultConfig returns the default turn configuration.
func DefaultConfig() Config {
	return Config{
		MaxRounds:           8,
		ToolTimeout:         15 * time.Second,
		TurnTimeout:         5 * time.Minute,
		CommentBetweenTools: true,
	}
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithSystemPrompt sets the system prompt for new sessions
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithMaxRounds bounds provider round-trips per turn
func WithMaxRounds(rounds int) Option {
	return func(c *Config) {
		if rounds > 0 {
			c.MaxRounds = rounds
		}
	}
}

// WithToolTimeout bounds each tool execution
func WithToolTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ToolTimeout = timeout
		}
	}
}

// WithTurnTimeout bounds the whole turn
func WithTurnTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.TurnTimeout = timeout
		}
	}
}

// WithCommentBetweenTools toggles the narration step between tools
func WithCommentBetweenTools(enabled bool) Option {
	return func(c *Config) {
		c.CommentBetweenTools = enabled
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(temp float32) Option {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// WithMaxTokens sets the response token limit
func WithMaxTokens(tokens int) Option {
	return func(c *Config) {
		c.MaxTokens = tokens
	}
}
