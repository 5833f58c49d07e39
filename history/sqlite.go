package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scrivly/agentloop/llm"
)

// SQLiteStore persists sessions and messages in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Appends within a session are serialized so seq stays gapless.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id   TEXT NOT NULL REFERENCES sessions(id),
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT,
		tool_calls   TEXT,
		tool_call_id TEXT NOT NULL DEFAULT '',
		tool_name    TEXT NOT NULL DEFAULT '',
		is_comment   INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session_seq
		ON messages(session_id, seq DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// GetOrCreateSession returns the session, creating it if needed.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, id, agentID string) (*Session, error) {
	sess := &Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, title, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.AgentID, &sess.Title, &sess.CreatedAt)
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query session: %w", err)
	}

	sess.AgentID = agentID
	sess.CreatedAt = time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, created_at) VALUES (?, ?, ?)`,
		id, agentID, sess.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created", "session_id", id, "agent_id", agentID)
	return sess, nil
}

// Append validates msg, assigns it the next sequence number and persists it.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg Message) (int64, error) {
	if err := checkMessage(&msg); err != nil {
		return 0, err
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return 0, ErrSessionNotFound
	}

	if msg.Role == llm.RoleTool {
		anchor, err := s.latestToolCallAnchor(ctx, tx, sessionID)
		if err != nil {
			return 0, err
		}
		if err := resolveToolLink(anchor, &msg); err != nil {
			return 0, err
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}

	var content sql.NullString
	if msg.Content != nil {
		content = sql.NullString{String: *msg.Content, Valid: true}
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, tool_name, is_comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, string(msg.Role), content, toolCalls,
		msg.ToolCallID, msg.ToolName, msg.IsComment, createdAt,
	); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return seq, nil
}

// latestToolCallAnchor returns the newest assistant message carrying tool
// calls, which is the message a tool result must answer.
func (s *SQLiteStore) latestToolCallAnchor(ctx context.Context, tx *sql.Tx, sessionID string) (*Message, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT tool_calls FROM messages
		 WHERE session_id = ? AND role = 'assistant' AND tool_calls IS NOT NULL
		 ORDER BY seq DESC LIMIT 1`, sessionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query anchor: %w", err)
	}

	anchor := &Message{Role: llm.RoleAssistant}
	if err := json.Unmarshal([]byte(raw), &anchor.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal anchor tool calls: %w", err)
	}
	return anchor, nil
}

// GetRecent returns the newest messages, up to limit.
func (s *SQLiteStore) GetRecent(ctx context.Context, sessionID string, limit int) (*Page, error) {
	return s.page(ctx, sessionID, 0, limit)
}

// GetMessagesBefore returns up to limit messages older than beforeSeq,
// newest first.
func (s *SQLiteStore) GetMessagesBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) (*Page, error) {
	return s.page(ctx, sessionID, beforeSeq, limit)
}

func (s *SQLiteStore) page(ctx context.Context, sessionID string, beforeSeq int64, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT seq, role, content, tool_calls, tool_call_id, tool_name, is_comment, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	// One extra row decides has_more without a second query.
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows, sessionID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	page := &Page{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
	}
	return page, nil
}

func scanMessage(rows *sql.Rows, sessionID string) (Message, error) {
	var msg Message
	var content, toolCalls sql.NullString
	if err := rows.Scan(&msg.Seq, &msg.Role, &content, &toolCalls,
		&msg.ToolCallID, &msg.ToolName, &msg.IsComment, &msg.CreatedAt); err != nil {
		return msg, fmt.Errorf("scan message: %w", err)
	}
	msg.SessionID = sessionID
	if content.Valid {
		msg.Content = &content.String
	}
	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return msg, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return msg, nil
}

// ReconstructContext returns the full session in sequence order, shaped for
// a provider request. Replaying the same session always yields the same
// message list.
func (s *SQLiteStore) ReconstructContext(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, tool_calls, tool_call_id, tool_name, is_comment, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		msg, err := scanMessage(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg.ToLLM())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// SetTitle records a display title for the session.
func (s *SQLiteStore) SetTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListSessions returns known sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, title, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.AgentID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TitleFromContent derives a short session title from the first user
// message.
func TitleFromContent(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = strings.TrimSpace(line[:60]) + "..."
	}
	if line == "" {
		return "New session"
	}
	return line
}
