// Package server exposes the orchestrator over HTTP: turns stream as
// server-sent events, history is paged by cursor, and a websocket carries
// interactive sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scrivly/agentloop/agent"
	"github.com/scrivly/agentloop/history"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// TurnRunner starts turns. Satisfied by *agent.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userContent string) (<-chan agent.TurnEvent, error)
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	runner     TurnRunner
	store      history.Store
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a server listening on addr.
func New(runner TurnRunner, store history.Store, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		store:  store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the configured handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type turnRequest struct {
	Content string `json:"content"`
}

// handleTurn runs one turn and streams its events as SSE frames. The
// terminal event is always the last frame before the stream closes.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.runner.RunTurn(r.Context(), sessionID, req.Content)
	if err != nil {
		s.logger.Error("turn start failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start turn")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// handleMessages pages backwards through a session. The cursor is the
// lowest seq of the previous page; pages never skip or duplicate messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPageLimit)
	}

	var page *history.Page
	var err error
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || before <= 0 {
			writeError(w, http.StatusBadRequest, "before must be a positive integer")
			return
		}
		page, err = s.store.GetMessagesBefore(r.Context(), sessionID, before, limit)
	} else {
		page, err = s.store.GetRecent(r.Context(), sessionID, limit)
	}
	if err != nil {
		s.logger.Error("page query failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	resp := map[string]any{
		"messages": page.Messages,
		"has_more": page.HasMore,
	}
	if page.Messages == nil {
		resp["messages"] = []history.Message{}
	}
	if page.HasMore {
		resp["next_before"] = page.Messages[len(page.Messages)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
