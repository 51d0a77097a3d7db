// Package journal defines the append-only journal event envelope (spec.md
// §3.1) and the stateless reconstruction of chat messages from it (§4.4).
//
// Nothing in this package touches the filesystem; internal/runstore owns
// reading and writing the journal file. This separation mirrors the
// teacher's split between pkg/agent (in-memory reasoning state) and
// pkg/task (persisted rows): the shape of the data is independent of how
// it is stored.
package journal

import "time"

// EventType enumerates the journal event types from spec.md §3.1.
type EventType string

const (
	EventRunStart           EventType = "RUN_START"
	EventRunEnd             EventType = "RUN_END"
	EventUserMessage        EventType = "USER_MESSAGE"
	EventThought            EventType = "THOUGHT"
	EventActionRequest      EventType = "ACTION_REQUEST"
	EventActionResult       EventType = "ACTION_RESULT"
	EventSystemMessage      EventType = "SYSTEM_MESSAGE"
	EventHookExecutionAudit EventType = "HOOK_EXECUTION_AUDIT"
)

// Event is one line of the journal: seq and timestamp are assigned by the
// Run Store when the event is appended; Payload is type-specific and is
// re-marshaled verbatim on read so that opaque fields (THOUGHT.tool_calls in
// particular) survive round-trips byte-for-byte.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
}

// UserMessagePayload is the payload of a USER_MESSAGE event: the task
// message given at run creation, or a message supplied on a `continue`.
type UserMessagePayload struct {
	Content string `json:"content"`
}

// ThoughtPayload is the payload of a THOUGHT event. ToolCalls is the raw,
// provider-native tool-call array; it is never normalized or reformatted
// (spec.md §9, "Message reconstruction vs. tool-call protocol").
type ThoughtPayload struct {
	InvocationID string `json:"invocation_id"`
	Content      string `json:"content,omitempty"`
	ToolCalls    []any  `json:"tool_calls,omitempty"`
}

// ActionRequestPayload is the payload of an ACTION_REQUEST event.
type ActionRequestPayload struct {
	ActionID string         `json:"action_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	Command  string         `json:"command,omitempty"`
}

// ActionResultStatus enumerates the outcome of a dispatched action.
type ActionResultStatus string

const (
	ActionStatusSuccess ActionResultStatus = "SUCCESS"
	ActionStatusFailed  ActionResultStatus = "FAILED"
	ActionStatusError   ActionResultStatus = "ERROR"
)

// ActionResultPayload is the payload of an ACTION_RESULT event.
type ActionResultPayload struct {
	ActionID          string             `json:"action_id"`
	Status            ActionResultStatus `json:"status"`
	ObservationContent string            `json:"observation_content"`
	ArtifactID        string             `json:"artifact_id,omitempty"`
}

// SystemMessageLevel enumerates the severity of a SYSTEM_MESSAGE event.
type SystemMessageLevel string

const (
	SystemLevelInfo  SystemMessageLevel = "INFO"
	SystemLevelWarn  SystemMessageLevel = "WARN"
	SystemLevelError SystemMessageLevel = "ERROR"
)

// SystemMessagePayload is the payload of a SYSTEM_MESSAGE event.
type SystemMessagePayload struct {
	Level   SystemMessageLevel `json:"level"`
	Message string              `json:"message"`
}

// HookAuditStatus enumerates the outcome of a hook invocation.
type HookAuditStatus string

const (
	HookStatusSuccess HookAuditStatus = "SUCCESS"
	HookStatusFailed  HookAuditStatus = "FAILED"
	HookStatusSkipped HookAuditStatus = "SKIPPED"
)

// HookAuditPayload is the payload of a HOOK_EXECUTION_AUDIT event.
type HookAuditPayload struct {
	HookName  string          `json:"hook_name"`
	Status    HookAuditStatus `json:"status"`
	IOPathRef string          `json:"io_path_ref"`
}

// RunEndStatus enumerates the terminal status recorded in a RUN_END event;
// these values also appear in Run Metadata's status field (spec.md §3.1).
type RunEndStatus string

const (
	RunEndCompleted   RunEndStatus = "COMPLETED"
	RunEndFailed      RunEndStatus = "FAILED"
	RunEndInterrupted RunEndStatus = "INTERRUPTED"
)

// RunEndPayload is the payload of a RUN_END event.
type RunEndPayload struct {
	Status RunEndStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}
