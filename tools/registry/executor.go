package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/tools"
)

type execResult struct {
	output string
	err    error
}

// ExecuteCall runs one tool call under a timeout and always returns a
// result. Unknown tools, bad arguments, timeouts and panics all become
// StatusError results; nothing here returns an error to the caller, since
// a failed tool must not take down the turn around it.
func (r *Registry) ExecuteCall(ctx context.Context, call llm.ToolCall, timeout time.Duration) tools.Result {
	start := time.Now()

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan execResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool panicked", "tool", call.Name, "panic", rec)
				// Non-blocking: the timeout path may already have won.
				select {
				case resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", rec)}:
				default:
				}
			}
		}()
		output, err := r.Execute(execCtx, call.Name, call.Arguments)
		select {
		case resultChan <- execResult{output: output, err: err}:
		default:
		}
	}()

	select {
	case res := <-resultChan:
		duration := time.Since(start)
		if res.err != nil {
			r.logger.Warn("tool failed", "tool", call.Name, "duration_ms", duration.Milliseconds(), "error", res.err)
			return tools.ErrorResult(call.ID, call.Name, res.err.Error(), duration)
		}
		r.logger.Debug("tool finished", "tool", call.Name, "duration_ms", duration.Milliseconds())
		return tools.Result{
			ToolCallID: call.ID,
			Name:       call.Name,
			Status:     tools.StatusOK,
			Payload:    toJSONPayload(res.output),
			Duration:   duration,
		}

	case <-execCtx.Done():
		duration := time.Since(start)
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			r.logger.Warn("tool timed out", "tool", call.Name, "timeout", timeout)
			return tools.ErrorResult(call.ID, call.Name,
				fmt.Sprintf("tool %q timed out after %s", call.Name, timeout), duration)
		}
		return tools.ErrorResult(call.ID, call.Name, "tool execution cancelled", duration)
	}
}

// toJSONPayload wraps tool output so the payload is always valid JSON.
// Output that already parses as JSON passes through untouched.
func toJSONPayload(output string) json.RawMessage {
	raw := json.RawMessage(output)
	if json.Valid(raw) && len(raw) > 0 {
		return raw
	}
	wrapped, _ := json.Marshal(map[string]string{"output": output})
	return wrapped
}
