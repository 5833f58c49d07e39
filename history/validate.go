package history

import (
	"fmt"

	"github.com/scrivly/agentloop/llm"
)

// checkMessage enforces the structural rules that hold for a message on its
// own, before any linkage against prior history.
func checkMessage(msg *Message) error {
	switch msg.Role {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
	default:
		return &IntegrityError{Reason: fmt.Sprintf("unknown role %q", msg.Role)}
	}

	if len(msg.ToolCalls) > 0 {
		if msg.Role != llm.RoleAssistant {
			return &IntegrityError{Reason: fmt.Sprintf("%s message cannot carry tool calls", msg.Role)}
		}
		// A tool-calling assistant message has no content of its own.
		if msg.Content != nil {
			return &IntegrityError{Reason: "assistant message with tool calls must have null content"}
		}
		for i, tc := range msg.ToolCalls {
			if tc.ID == "" {
				return &IntegrityError{Reason: fmt.Sprintf("tool call %d has empty id", i)}
			}
			if tc.Name == "" {
				return &IntegrityError{Reason: fmt.Sprintf("tool call %q has empty name", tc.ID)}
			}
		}
	}

	if msg.Role == llm.RoleTool {
		if msg.ToolCallID == "" {
			return &IntegrityError{Reason: "tool message missing tool_call_id"}
		}
	} else {
		if msg.ToolCallID != "" {
			return &IntegrityError{Reason: fmt.Sprintf("%s message cannot carry tool_call_id", msg.Role)}
		}
	}

	return nil
}

// resolveToolLink verifies a tool message against the nearest preceding
// assistant message that requested tools. The tool call id must name one of
// that message's calls. ToolName is filled in from the matched call when
// absent; a non-matching name supplied by the caller is rejected.
func resolveToolLink(anchor *Message, msg *Message) error {
	if anchor == nil {
		return &IntegrityError{Reason: fmt.Sprintf("tool message %q has no preceding assistant tool call", msg.ToolCallID)}
	}
	for _, tc := range anchor.ToolCalls {
		if tc.ID != msg.ToolCallID {
			continue
		}
		if msg.ToolName == "" {
			msg.ToolName = tc.Name
		} else if msg.ToolName != tc.Name {
			return &IntegrityError{Reason: fmt.Sprintf("tool message names %q but call %q was for %q", msg.ToolName, tc.ID, tc.Name)}
		}
		return nil
	}
	return &IntegrityError{Reason: fmt.Sprintf("tool_call_id %q does not match any call in the preceding assistant message", msg.ToolCallID)}
}
