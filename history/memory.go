package history

import (
	"context"
	"sync"
	"time"

	"github.com/scrivly/agentloop/llm"
)

// MemStore is an in-memory Store used in tests and for ephemeral sessions.
// It enforces the same structural rules as the SQLite store.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
	order    []string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
	}
}

// GetOrCreateSession returns the session, creating it if needed.
func (s *MemStore) GetOrCreateSession(ctx context.Context, id, agentID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}

	sess := &Session{ID: id, AgentID: agentID, CreatedAt: time.Now().UTC()}
	s.sessions[id] = sess
	s.order = append(s.order, id)
	cp := *sess
	return &cp, nil
}

// Append validates msg, assigns it the next sequence number and stores it.
func (s *MemStore) Append(ctx context.Context, sessionID string, msg Message) (int64, error) {
	if err := checkMessage(&msg); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return 0, ErrSessionNotFound
	}

	buf := s.messages[sessionID]

	if msg.Role == llm.RoleTool {
		var anchor *Message
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i].Role == llm.RoleAssistant && len(buf[i].ToolCalls) > 0 {
				anchor = &buf[i]
				break
			}
		}
		if err := resolveToolLink(anchor, &msg); err != nil {
			return 0, err
		}
	}

	msg.SessionID = sessionID
	msg.Seq = int64(len(buf)) + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[sessionID] = append(buf, msg)

	return msg.Seq, nil
}

// GetRecent returns the newest messages, up to limit.
func (s *MemStore) GetRecent(ctx context.Context, sessionID string, limit int) (*Page, error) {
	return s.page(sessionID, 0, limit)
}

// GetMessagesBefore returns up to limit messages older than beforeSeq,
// newest first.
func (s *MemStore) GetMessagesBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) (*Page, error) {
	return s.page(sessionID, beforeSeq, limit)
}

func (s *MemStore) page(sessionID string, beforeSeq int64, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.messages[sessionID]

	// Seqs are gapless from 1, so the message with seq n sits at buf[n-1]
	// and the page bounds are plain index arithmetic.
	end := len(buf)
	if beforeSeq > 0 {
		end = min(int(beforeSeq)-1, end)
	}
	end = max(end, 0)
	start := max(end-limit, 0)

	page := &Page{HasMore: start > 0}
	for i := end - 1; i >= start; i-- {
		page.Messages = append(page.Messages, buf[i])
	}
	return page, nil
}

// ReconstructContext returns the session's messages in sequence order,
// shaped for a provider request.
func (s *MemStore) ReconstructContext(ctx context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.messages[sessionID]
	out := make([]llm.Message, len(buf))
	for i, msg := range buf {
		out[i] = msg.ToLLM()
	}
	return out, nil
}

// SetTitle records a display title for the session.
func (s *MemStore) SetTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Title = title
	return nil
}

// ListSessions returns known sessions, newest first.
func (s *MemStore) ListSessions(ctx context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]Session, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		sessions = append(sessions, *s.sessions[s.order[i]])
	}
	return sessions, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}
