// Package history is the append-only conversation record. Every message in
// a session carries a sequence number assigned at append time; numbers are
// strictly increasing and gapless per session, so any two readers paging
// through a session see the same order.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrivly/agentloop/llm"
)

// Session groups the messages of one conversation.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one stored conversation entry. Seq is assigned by the store at
// append time and never supplied by callers.
type Message struct {
	SessionID  string         `json:"session_id"`
	Seq        int64          `json:"seq"`
	Role       llm.Role       `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	// IsComment marks assistant commentary produced between tool
	// executions, so UIs can render it differently from the final answer.
	IsComment bool      `json:"is_comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one slice of a session's messages, newest first.
type Page struct {
	Messages []Message `json:"messages"`
	// HasMore reports whether older messages exist beyond this page.
	HasMore bool `json:"has_more"`
}

// ErrSessionNotFound is returned when a session ID does not exist.
var ErrSessionNotFound = errors.New("session not found")

// IntegrityError is returned when an append would violate the structural
// rules of the record, such as a tool message that answers no known call.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("history integrity: %s", e.Reason)
}

// Store is the conversation record. Implementations must serialize appends
// per session so sequence numbers stay gapless under concurrency.
type Store interface {
	// GetOrCreateSession returns the session, creating it if needed.
	GetOrCreateSession(ctx context.Context, id, agentID string) (*Session, error)

	// Append validates msg, assigns it the next sequence number and
	// persists it. The assigned number is returned.
	Append(ctx context.Context, sessionID string, msg Message) (int64, error)

	// GetRecent returns the newest messages, up to limit.
	GetRecent(ctx context.Context, sessionID string, limit int) (*Page, error)

	// GetMessagesBefore returns up to limit messages with Seq < beforeSeq,
	// newest first. Paging with the last returned Seq as the next cursor
	// walks the whole session without skips or duplicates.
	GetMessagesBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) (*Page, error)

	// ReconstructContext returns the session's messages in sequence order,
	// shaped for a provider request.
	ReconstructContext(ctx context.Context, sessionID string) ([]llm.Message, error)

	// SetTitle records a display title for the session.
	SetTitle(ctx context.Context, sessionID, title string) error

	// ListSessions returns known sessions, newest first.
	ListSessions(ctx context.Context) ([]Session, error)

	// Close releases underlying resources.
	Close() error
}

// ToLLM converts a stored message to its provider-facing form.
func (m Message) ToLLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.ToolName,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	}
}
