package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/scrivly/agentloop/agent"
	"github.com/scrivly/agentloop/history"
	"github.com/scrivly/agentloop/llm"
)

// stubRunner replays a fixed event script for every turn.
type stubRunner struct {
	events  []agent.TurnEvent
	lastSID string
	err     error
}

func (r *stubRunner) RunTurn(ctx context.Context, sessionID, userContent string) (<-chan agent.TurnEvent, error) {
	r.lastSID = sessionID
	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan agent.TurnEvent, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, runner TurnRunner, store history.Store) *Server {
	t.Helper()
	if store == nil {
		store = history.NewMemStore()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runner, store, logger, ":0")
}

func doneScript(answer string) []agent.TurnEvent {
	return []agent.TurnEvent{
		{Type: agent.EventMessageAppended, Seq: 1, Role: llm.RoleUser},
		{Type: agent.EventToken, Token: answer},
		{Type: agent.EventMessageAppended, Seq: 2, Role: llm.RoleAssistant},
		{Type: agent.EventTurnDone, Content: answer},
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTurnStreamsSSE(t *testing.T) {
	runner := &stubRunner{events: doneScript("hello")}
	srv := newTestServer(t, runner, nil)

	body := strings.NewReader(`{"content":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/turns", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if runner.lastSID != "s1" {
		t.Errorf("session id = %q", runner.lastSID)
	}

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != len(doneScript("hello")) {
		t.Fatalf("got %d frames, want %d:\n%s", len(frames), len(doneScript("hello")), rec.Body)
	}
	last := frames[len(frames)-1]
	if !strings.HasPrefix(last, "event: turn_done\n") {
		t.Errorf("last frame = %q", last)
	}
	dataLine := strings.TrimPrefix(strings.SplitN(last, "\n", 2)[1], "data: ")
	var ev agent.TurnEvent
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatalf("last frame data not JSON: %v", err)
	}
	if ev.Type != agent.EventTurnDone || ev.Content != "hello" {
		t.Errorf("terminal event = %+v", ev)
	}
}

func TestTurnRejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/turns", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMessagesPagination(t *testing.T) {
	store := history.NewMemStore()
	ctx := context.Background()
	store.GetOrCreateSession(ctx, "s1", "agent")
	for i := 1; i <= 7; i++ {
		store.Append(ctx, "s1", history.Message{
			Role:    llm.RoleUser,
			Content: llm.StringPtr(fmt.Sprintf("msg %d", i)),
		})
	}
	srv := newTestServer(t, &stubRunner{}, store)

	type pageResp struct {
		Messages   []history.Message `json:"messages"`
		HasMore    bool              `json:"has_more"`
		NextBefore int64             `json:"next_before"`
	}

	get := func(url string) pageResp {
		t.Helper()
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status %d, body %s", url, rec.Code, rec.Body)
		}
		var resp pageResp
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("GET %s: bad JSON: %v", url, err)
		}
		return resp
	}

	first := get("/v1/sessions/s1/messages?limit=3")
	if len(first.Messages) != 3 || !first.HasMore {
		t.Fatalf("first page = %+v", first)
	}
	if first.Messages[0].Seq != 7 || first.NextBefore != 5 {
		t.Errorf("first page seqs = %d..%d, next_before = %d",
			first.Messages[0].Seq, first.Messages[len(first.Messages)-1].Seq, first.NextBefore)
	}

	second := get(fmt.Sprintf("/v1/sessions/s1/messages?limit=3&before=%d", first.NextBefore))
	if len(second.Messages) != 3 || !second.HasMore {
		t.Fatalf("second page = %+v", second)
	}

	third := get(fmt.Sprintf("/v1/sessions/s1/messages?limit=3&before=%d", second.NextBefore))
	if len(third.Messages) != 1 || third.HasMore {
		t.Fatalf("third page = %+v", third)
	}
	if third.Messages[0].Seq != 1 {
		t.Errorf("last message seq = %d", third.Messages[0].Seq)
	}
}

func TestMessagesRejectsBadCursor(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	for _, url := range []string{
		"/v1/sessions/s1/messages?limit=0",
		"/v1/sessions/s1/messages?limit=abc",
		"/v1/sessions/s1/messages?before=-1",
		"/v1/sessions/s1/messages?before=xyz",
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s: status %d, want 400", url, rec.Code)
		}
	}
}

func TestListSessions(t *testing.T) {
	store := history.NewMemStore()
	store.GetOrCreateSession(context.Background(), "s1", "agent")
	srv := newTestServer(t, &stubRunner{}, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Sessions []history.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != "s1" {
		t.Errorf("sessions = %+v", resp.Sessions)
	}
}

func TestWebsocketRelaysTurnEvents(t *testing.T) {
	runner := &stubRunner{events: doneScript("ws answer")}
	srv := newTestServer(t, runner, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/s1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []agent.TurnEvent
	for {
		var ev agent.TurnEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read after %d events: %v", len(got), err)
		}
		got = append(got, ev)
		if ev.Type == agent.EventTurnDone || ev.Type == agent.EventTurnAborted {
			break
		}
	}

	if len(got) != len(doneScript("ws answer")) {
		t.Errorf("got %d events, want %d", len(got), len(doneScript("ws answer")))
	}
	if last := got[len(got)-1]; last.Type != agent.EventTurnDone || last.Content != "ws answer" {
		t.Errorf("terminal event = %+v", last)
	}
}
