package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream runs an interactive session over a websocket. The client
// sends {"content": "..."} frames; every frame runs one turn whose events
// are relayed back as JSON. Turns run one at a time, so a new frame is only
// read after the previous turn's terminal event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket session opened", "session_id", sessionID)

	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if req.Content == "" {
			if err := conn.WriteJSON(map[string]string{"error": "content is required"}); err != nil {
				return
			}
			continue
		}

		events, err := s.runner.RunTurn(r.Context(), sessionID, req.Content)
		if err != nil {
			s.logger.Error("turn start failed", "session_id", sessionID, "error", err)
			if err := conn.WriteJSON(map[string]string{"error": "failed to start turn"}); err != nil {
				return
			}
			continue
		}

		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				// Client gone; drain so the turn goroutine can finish.
				for range events {
				}
				return
			}
		}
	}
}
