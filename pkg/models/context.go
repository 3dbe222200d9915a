package models

// Phase tags the step context with what the previous step produced.
type Phase string

// Step context phases.
const (
	PhaseUserInput     Phase = "user_input"
	PhaseLLMResult     Phase = "llm_result"
	PhaseToolResult    Phase = "tool_result"
	PhaseHumanInput    Phase = "human_input"
	PhaseErrorRecovery Phase = "error_recovery"
)

// ContextPayload is the phase-specific half of a step context. Only the
// fields relevant to the phase are populated.
type ContextPayload struct {
	// PhaseUserInput / PhaseHumanInput: the latest message.
	Message *Message `json:"message,omitempty"`

	// PhaseLLMResult: the model output and any requested tool calls.
	Result       string     `json:"result,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	HasToolCalls bool       `json:"has_tool_calls,omitempty"`
	// Approved marks tool calls that already passed human approval, so the
	// next step dispatches them instead of requesting approval again.
	Approved bool `json:"approved,omitempty"`

	// PhaseToolResult: the tool result plus its originating call id.
	ToolResult string `json:"tool_result,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// RemainingToolCalls are sibling calls from the same assistant turn
	// that have not been dispatched yet. Every call must produce a tool
	// message before the conversation returns to the model.
	RemainingToolCalls []ToolCall `json:"remaining_tool_calls,omitempty"`

	// PhaseErrorRecovery: what failed.
	Error string `json:"error,omitempty"`
}

// SessionSnapshot is the read-only session summary carried in a context.
type SessionSnapshot struct {
	StepCount    int    `json:"step_count"`
	MessageCount int    `json:"message_count"`
	EventCount   int    `json:"event_count"`
	Status       Status `json:"status"`
}

// StepContext is the argument passed from one step to the next. It is not
// persisted with the session; it rides inside each queued step dispatch.
type StepContext struct {
	Phase   Phase           `json:"phase"`
	Payload ContextPayload  `json:"payload"`
	Session SessionSnapshot `json:"session"`
}

// Snapshot captures the session summary fields into a context snapshot.
func Snapshot(s *Session, eventCount int) SessionSnapshot {
	return SessionSnapshot{
		StepCount:    s.StepCount,
		MessageCount: len(s.Messages),
		EventCount:   eventCount,
		Status:       s.Status,
	}
}
