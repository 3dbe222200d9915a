package models

// Priority orders queued step dispatches.
type Priority string

// Task priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// HumanInputPayload carries an intervention response into the next step.
// Exactly one field is set.
type HumanInputPayload struct {
	// Input is a free-form prompt response or selected option(s).
	Input string `json:"input,omitempty"`
	// Selections are the chosen options for a select intervention.
	Selections []string `json:"selections,omitempty"`
	// ToolCallID ties the input to a pending tool call, when applicable.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// StepTask is the unit of work posted through the queue. The queue serializes
// it and delivers it back to the step endpoint with at-least-once semantics.
// Field names follow the wire shape of the step callback endpoint.
type StepTask struct {
	TaskID    string       `json:"taskId,omitempty"`
	SessionID string       `json:"sessionId"`
	StepIndex int          `json:"stepIndex"`
	Context   *StepContext `json:"context,omitempty"`
	Priority  Priority     `json:"priority,omitempty"`

	ForceComplete bool `json:"forceComplete,omitempty"`

	// Human-intervention payload: at most one of the three is set.
	ApprovedToolCall *ToolCall          `json:"approvedToolCall,omitempty"`
	RejectionReason  string             `json:"rejectionReason,omitempty"`
	HumanInput       *HumanInputPayload `json:"humanInput,omitempty"`
}
