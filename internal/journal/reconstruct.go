package journal

import (
	"encoding/json"
	"fmt"

	"github.com/deltaengine/delta/internal/llmclient"
)

// Reconstruct rebuilds the chat message sequence from a journal's events,
// per spec.md §4.4. It is a pure function of events: calling it twice on
// the same slice yields byte-for-byte identical results (spec.md §8,
// invariant 5), which is exactly what makes the engine's stateless-core
// design (spec.md §9) resumable.
//
// If maxIterations is > 0 and there are more assistant (THOUGHT) messages
// than that, every message before the maxIterations-th last assistant
// message is dropped, user messages included.
func Reconstruct(events []Event, maxIterations int) ([]llmclient.Message, error) {
	var messages []llmclient.Message

	for _, ev := range events {
		switch ev.Type {
		case EventUserMessage:
			p, err := decode[UserMessagePayload](ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("reconstruct USER_MESSAGE seq=%d: %w", ev.Seq, err)
			}
			messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: p.Content})

		case EventThought:
			p, err := decode[ThoughtPayload](ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("reconstruct THOUGHT seq=%d: %w", ev.Seq, err)
			}
			messages = append(messages, llmclient.Message{
				Role:      llmclient.RoleAssistant,
				Content:   p.Content,
				ToolCalls: toolCallsFromRaw(p.ToolCalls),
			})

		case EventActionResult:
			p, err := decode[ActionResultPayload](ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("reconstruct ACTION_RESULT seq=%d: %w", ev.Seq, err)
			}
			messages = append(messages, llmclient.Message{
				Role:       llmclient.RoleTool,
				Content:    p.ObservationContent,
				ToolCallID: p.ActionID,
			})

		default:
			// RUN_START, RUN_END, SYSTEM_MESSAGE, ACTION_REQUEST, and
			// HOOK_EXECUTION_AUDIT events carry no chat content and are
			// skipped during reconstruction.
		}
	}

	if maxIterations > 0 {
		messages = trimToLastIterations(messages, maxIterations)
	}
	return messages, nil
}

// trimToLastIterations returns the suffix of messages that starts at the
// n-th last assistant message (every message after it is kept, whatever its
// role), or messages unchanged if there are at most n assistant messages.
func trimToLastIterations(messages []llmclient.Message, n int) []llmclient.Message {
	assistantIdx := make([]int, 0)
	for i, m := range messages {
		if m.Role == llmclient.RoleAssistant {
			assistantIdx = append(assistantIdx, i)
		}
	}
	if len(assistantIdx) <= n {
		return messages
	}
	cutoff := assistantIdx[len(assistantIdx)-n]
	return messages[cutoff:]
}

// toolCallsFromRaw converts the opaque []any stored in a THOUGHT payload
// back into the typed llmclient.ToolCall slice used to build the next
// request. The blob is passed through verbatim; only the envelope (id,
// name, arguments) is extracted for correlation purposes.
func toolCallsFromRaw(raw []any) []llmclient.ToolCall {
	if len(raw) == 0 {
		return nil
	}
	out := make([]llmclient.ToolCall, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		tc := llmclient.ToolCall{}
		if id, ok := m["id"].(string); ok {
			tc.ID = id
		}
		if name, ok := m["name"].(string); ok {
			tc.Name = name
		}
		if args, ok := m["arguments"].(map[string]any); ok {
			tc.Arguments = args
		}
		out = append(out, tc)
	}
	return out
}

// decode re-marshals an any-typed payload (as produced by json.Unmarshal
// into Event.Payload) into a concrete struct.
func decode[T any](payload any) (T, error) {
	var zero T
	raw, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// PendingAskHuman scans the journal for an ACTION_REQUEST naming the
// ask_human tool that has no matching ACTION_RESULT, returning it (and ok
// == true) if one exists. Spec.md §4.6 step 3a and §4.9.
func PendingAskHuman(events []Event) (ActionRequestPayload, bool) {
	var pending *ActionRequestPayload
	resolved := make(map[string]bool)

	for _, ev := range events {
		switch ev.Type {
		case EventActionRequest:
			p, err := decode[ActionRequestPayload](ev.Payload)
			if err != nil {
				continue
			}
			if p.ToolName == "ask_human" {
				cp := p
				pending = &cp
			}
		case EventActionResult:
			p, err := decode[ActionResultPayload](ev.Payload)
			if err != nil {
				continue
			}
			resolved[p.ActionID] = true
		}
	}
	if pending == nil || resolved[pending.ActionID] {
		return ActionRequestPayload{}, false
	}
	return *pending, true
}

// PendingToolCalls finds the journal's most recent THOUGHT event and
// returns any of its tool calls — other than ask_human, which has its own
// dedicated pause/resume path via PendingAskHuman — that have no matching
// ACTION_RESULT yet. A non-empty result means the process died after
// logging the THOUGHT but before finishing every tool it requested, and
// the remaining ones must be re-dispatched rather than re-asked of the LLM
// (spec.md §8's resume round-trip property).
func PendingToolCalls(events []Event) ([]llmclient.ToolCall, bool) {
	var lastToolCalls []any
	sawThought := false
	resolved := make(map[string]bool)

	for _, ev := range events {
		switch ev.Type {
		case EventThought:
			p, err := decode[ThoughtPayload](ev.Payload)
			if err != nil {
				continue
			}
			lastToolCalls = p.ToolCalls
			sawThought = true
		case EventActionResult:
			p, err := decode[ActionResultPayload](ev.Payload)
			if err != nil {
				continue
			}
			resolved[p.ActionID] = true
		}
	}
	if !sawThought || len(lastToolCalls) == 0 {
		return nil, false
	}

	var pending []llmclient.ToolCall
	for _, tc := range toolCallsFromRaw(lastToolCalls) {
		if tc.Name == "ask_human" || resolved[tc.ID] {
			continue
		}
		pending = append(pending, tc)
	}
	if len(pending) == 0 {
		return nil, false
	}
	return pending, true
}

// HasActionRequest reports whether an ACTION_REQUEST already exists for the
// given action ID, so a redispatched tool call doesn't log a second one.
func HasActionRequest(events []Event, actionID string) bool {
	for _, ev := range events {
		if ev.Type != EventActionRequest {
			continue
		}
		p, err := decode[ActionRequestPayload](ev.Payload)
		if err != nil {
			continue
		}
		if p.ActionID == actionID {
			return true
		}
	}
	return false
}

// ActionResultFor reports whether an ACTION_RESULT already exists for the
// given action ID (spec.md §8 invariant 4: at most one ACTION_RESULT per
// ACTION_REQUEST), used by the engine to avoid re-dispatching a tool on
// resume.
func ActionResultFor(events []Event, actionID string) (ActionResultPayload, bool) {
	for _, ev := range events {
		if ev.Type != EventActionResult {
			continue
		}
		p, err := decode[ActionResultPayload](ev.Payload)
		if err != nil {
			continue
		}
		if p.ActionID == actionID {
			return p, true
		}
	}
	return ActionResultPayload{}, false
}
