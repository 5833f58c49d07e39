package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/scrivly/agentloop/history"
	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/tools/registry"
)

const eventBuffer = 64

// Orchestrator runs turns against a provider, a history store and a tool
// registry.
type Orchestrator struct {
	provider llm.Provider
	store    history.Store
	registry *registry.Registry
	config   Config
	logger   *slog.Logger

	// One turn at a time per session.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(provider llm.Provider, store history.Store, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Orchestrator{
		provider: provider,
		store:    store,
		registry: reg,
		config:   config,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sessionID] = l
	}
	return l
}

// RunTurn starts a turn for the given user input and returns its event
// stream. The stream always ends with exactly one of EventTurnDone or
// EventTurnAborted, after which it is closed. The session is created if it
// does not exist yet.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userContent string) (<-chan TurnEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	if _, err := o.store.GetOrCreateSession(ctx, sessionID, o.provider.Name()); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	events := make(chan TurnEvent, eventBuffer)
	go o.runTurn(ctx, sessionID, userContent, events)
	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID, userContent string, events chan<- TurnEvent) {
	defer close(events)

	ctx, cancel := context.WithTimeout(ctx, o.config.TurnTimeout)
	defer cancel()

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	logger := o.logger.With("session_id", sessionID)

	if err := o.prepareSession(ctx, sessionID, userContent, events); err != nil {
		logger.Error("turn setup failed", "error", err)
		o.emit(events, TurnEvent{Type: EventTurnAborted, Reason: err.Error()})
		return
	}

	for round := 1; round <= o.config.MaxRounds; round++ {
		// Re-read the registry each round so continuation calls see tools
		// registered or invalidated mid-turn.
		defs := o.registry.Definitions()

		resp, err := o.callProvider(ctx, sessionID, defs, events)
		if err != nil {
			o.abort(ctx, sessionID, fmt.Sprintf("provider error: %v", err), events)
			return
		}

		if resp.FinishReason != llm.FinishToolCalls || len(resp.ToolCalls) == 0 {
			content := llm.GetStringValue(resp.Content)
			seq, err := o.append(ctx, sessionID, history.Message{
				Role:    llm.RoleAssistant,
				Content: llm.StringPtr(content),
			}, events)
			if err != nil {
				o.abort(ctx, sessionID, fmt.Sprintf("record answer: %v", err), events)
				return
			}
			logger.Info("turn done", "rounds", round, "final_seq", seq)
			o.emit(events, TurnEvent{Type: EventTurnDone, Content: content})
			return
		}

		if err := o.runToolRound(ctx, sessionID, resp, events); err != nil {
			o.abort(ctx, sessionID, err.Error(), events)
			return
		}
	}

	logger.Warn("round limit reached", "max_rounds", o.config.MaxRounds)
	o.abort(ctx, sessionID, fmt.Sprintf("round limit of %d reached without a final answer", o.config.MaxRounds), events)
}

// prepareSession seeds a fresh session with the system prompt and a title,
// then records the user message.
func (o *Orchestrator) prepareSession(ctx context.Context, sessionID, userContent string, events chan<- TurnEvent) error {
	recent, err := o.store.GetRecent(ctx, sessionID, 1)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if len(recent.Messages) == 0 {
		if o.config.SystemPrompt != "" {
			if _, err := o.append(ctx, sessionID, history.Message{
				Role:    llm.RoleSystem,
				Content: llm.StringPtr(o.config.SystemPrompt),
			}, events); err != nil {
				return fmt.Errorf("record system prompt: %w", err)
			}
		}
		if err := o.store.SetTitle(ctx, sessionID, history.TitleFromContent(userContent)); err != nil {
			o.logger.Warn("set title failed", "session_id", sessionID, "error", err)
		}
	}

	if _, err := o.append(ctx, sessionID, history.Message{
		Role:    llm.RoleUser,
		Content: llm.StringPtr(userContent),
	}, events); err != nil {
		return fmt.Errorf("record user message: %w", err)
	}
	return nil
}

// callProvider replays the session and makes one streamed provider call.
func (o *Orchestrator) callProvider(ctx context.Context, sessionID string, defs []llm.ToolDefinition, events chan<- TurnEvent) (*llm.Response, error) {
	messages, err := o.store.ReconstructContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct context: %w", err)
	}

	req := &llm.Request{
		Messages:    messages,
		Tools:       defs,
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
	}
	return o.provider.RespondStream(ctx, req, func(text string) {
		o.emit(events, TurnEvent{Type: EventToken, Token: text})
	})
}

// runToolRound records the assistant's tool request and executes its calls
// one at a time, in the order the model emitted them.
func (o *Orchestrator) runToolRound(ctx context.Context, sessionID string, resp *llm.Response, events chan<- TurnEvent) error {
	calls := make([]llm.ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	for i := range calls {
		// Some backends omit call ids; history linkage needs one.
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}

	if _, err := o.append(ctx, sessionID, history.Message{
		Role:      llm.RoleAssistant,
		Content:   nil,
		ToolCalls: calls,
	}, events); err != nil {
		return fmt.Errorf("record tool request: %w", err)
	}

	for _, call := range calls {
		o.emit(events, TurnEvent{Type: EventToolStarted, ToolName: call.Name, ToolCallID: call.ID})

		result := o.registry.ExecuteCall(ctx, call, o.config.ToolTimeout)

		o.emit(events, TurnEvent{
			Type:       EventToolFinished,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Status:     result.Status,
		})

		if _, err := o.append(ctx, sessionID, history.Message{
			Role:       llm.RoleTool,
			Content:    llm.StringPtr(string(result.Payload)),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		}, events); err != nil {
			return fmt.Errorf("record tool result: %w", err)
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("turn cancelled: %w", err)
		}

		if o.config.CommentBetweenTools {
			o.comment(ctx, sessionID, events)
		}
	}
	return nil
}

// comment makes one provider call with tools withheld so the model can
// narrate what it just learned. Failure here never fails the turn.
func (o *Orchestrator) comment(ctx context.Context, sessionID string, events chan<- TurnEvent) {
	messages, err := o.store.ReconstructContext(ctx, sessionID)
	if err != nil {
		o.logger.Warn("comment skipped", "session_id", sessionID, "error", err)
		return
	}

	req := &llm.Request{
		Messages:    messages,
		Tools:       nil, // withheld: the comment step must not chain calls
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
	}
	resp, err := o.provider.RespondStream(ctx, req, func(text string) {
		o.emit(events, TurnEvent{Type: EventToken, Token: text})
	})
	if err != nil {
		o.logger.Warn("comment call failed", "session_id", sessionID, "error", err)
		return
	}

	content := llm.GetStringValue(resp.Content)
	if content == "" {
		return
	}
	if _, err := o.append(ctx, sessionID, history.Message{
		Role:      llm.RoleAssistant,
		Content:   llm.StringPtr(content),
		IsComment: true,
	}, events); err != nil {
		o.logger.Warn("record comment failed", "session_id", sessionID, "error", err)
		return
	}
	o.emit(events, TurnEvent{Type: EventComment, Content: content})
}

// abort records a best-effort terminal assistant message and ends the turn.
// The record attempt is best-effort because the store may be the thing that
// failed.
func (o *Orchestrator) abort(ctx context.Context, sessionID, reason string, events chan<- TurnEvent) {
	o.logger.Error("turn aborted", "session_id", sessionID, "reason", reason)

	notice := fmt.Sprintf("The turn could not be completed: %s", reason)
	if _, err := o.append(context.WithoutCancel(ctx), sessionID, history.Message{
		Role:    llm.RoleAssistant,
		Content: llm.StringPtr(notice),
	}, events); err != nil {
		o.logger.Warn("abort notice not recorded", "session_id", sessionID, "error", err)
	}

	o.emit(events, TurnEvent{Type: EventTurnAborted, Reason: reason, Content: notice})
}

func (o *Orchestrator) append(ctx context.Context, sessionID string, msg history.Message, events chan<- TurnEvent) (int64, error) {
	seq, err := o.store.Append(ctx, sessionID, msg)
	if err != nil {
		return 0, err
	}
	o.emit(events, TurnEvent{Type: EventMessageAppended, Seq: seq, Role: msg.Role})
	return seq, nil
}

// emit delivers an event, dropping token events if the consumer has fallen
// behind the buffer. Structural events block until delivered.
func (o *Orchestrator) emit(events chan<- TurnEvent, ev TurnEvent) {
	if ev.Type == EventToken {
		select {
		case events <- ev:
		default:
			// Token loss only degrades live rendering; history holds
			// the full text.
		}
		return
	}
	events <- ev
}
