package models

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

// Session lifecycle states.
const (
	StatusIdle            Status = "idle"
	StatusRunning         Status = "running"
	StatusWaitingForHuman Status = "waiting_for_human_input"
	StatusDone            Status = "done"
	StatusError           Status = "error"
	StatusInterrupted     Status = "interrupted"
)

// IsTerminal reports whether no further steps may be enqueued for a session
// in this status.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Usage accumulates token counters across steps.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Cost accumulates monetary cost across steps. Total is monotonically
// non-decreasing for the life of the session.
type Cost struct {
	Total    float64 `json:"total"`
	Currency string  `json:"currency,omitempty"`
}

// CostExceededAction controls what happens when a session crosses its cost limit.
type CostExceededAction string

// Cost limit actions.
const (
	CostActionStop      CostExceededAction = "stop"
	CostActionInterrupt CostExceededAction = "interrupt"
	CostActionContinue  CostExceededAction = "continue"
)

// CostLimit bounds the total spend of a session.
type CostLimit struct {
	MaxTotalCost float64            `json:"max_total_cost"`
	Currency     string             `json:"currency,omitempty"`
	OnExceeded   CostExceededAction `json:"on_exceeded,omitempty"`
}

// ModelConfig selects the model used for LLM instructions.
type ModelConfig struct {
	Model       string   `json:"model"`
	Provider    string   `json:"provider"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// AgentConfig carries agent-level policy for a session.
type AgentConfig struct {
	// RequireToolApproval pauses the session for human approval before any
	// tool call is executed.
	RequireToolApproval bool `json:"require_tool_approval,omitempty"`
	// SystemPrompt is prepended to the conversation when set.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// Tools the agent may call, by name.
	Tools []string `json:"tools,omitempty"`
}

// PendingHumanPrompt asks the human for free-form input.
type PendingHumanPrompt struct {
	Prompt    string `json:"prompt"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// PendingHumanSelect asks the human to choose from fixed options.
type PendingHumanSelect struct {
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Multiple bool     `json:"multiple,omitempty"`
}

// Interruption records why a session was interrupted and whether it may resume.
type Interruption struct {
	Reason        string    `json:"reason"`
	CanResume     bool      `json:"can_resume"`
	InterruptedAt time.Time `json:"interrupted_at"`
}

// SessionError is the structured error descriptor stored on failed sessions.
type SessionError struct {
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
}

// Session is the durable per-session state. It is written as a single blob;
// every step loads it, mutates a copy, and persists the replacement.
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	StepCount int       `json:"step_count"`
	Messages  []Message `json:"messages"`

	Cost  Cost  `json:"cost"`
	Usage Usage `json:"usage"`

	MaxSteps  int        `json:"max_steps,omitempty"`
	CostLimit *CostLimit `json:"cost_limit,omitempty"`

	ModelConfig ModelConfig `json:"model_config"`
	AgentConfig AgentConfig `json:"agent_config"`

	// At most one of the three pending fields is set, and only while
	// Status == StatusWaitingForHuman.
	PendingToolsCalling []ToolCall          `json:"pending_tools_calling,omitempty"`
	PendingHumanPrompt  *PendingHumanPrompt `json:"pending_human_prompt,omitempty"`
	PendingHumanSelect  *PendingHumanSelect `json:"pending_human_select,omitempty"`

	Interruption *Interruption `json:"interruption,omitempty"`
	Error        *SessionError `json:"error,omitempty"`

	LastModified time.Time `json:"last_modified"`
}

// NeedsHumanInput reports whether the session is blocked on an intervention.
func (s *Session) NeedsHumanInput() bool {
	return s.Status == StatusWaitingForHuman
}

// PendingCount returns how many of the pending_* fields are set.
// The waiting_for_human_input invariant requires exactly one.
func (s *Session) PendingCount() int {
	n := 0
	if len(s.PendingToolsCalling) > 0 {
		n++
	}
	if s.PendingHumanPrompt != nil {
		n++
	}
	if s.PendingHumanSelect != nil {
		n++
	}
	return n
}

// ClearPending resets all pending_* fields.
func (s *Session) ClearPending() {
	s.PendingToolsCalling = nil
	s.PendingHumanPrompt = nil
	s.PendingHumanSelect = nil
}

// Clone returns a deep copy of the session. Steps must never share mutable
// state; the engine clones before handing state to an executor.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = CloneMessages(s.Messages)
	if s.PendingToolsCalling != nil {
		out.PendingToolsCalling = append([]ToolCall(nil), s.PendingToolsCalling...)
	}
	if s.PendingHumanPrompt != nil {
		p := *s.PendingHumanPrompt
		out.PendingHumanPrompt = &p
	}
	if s.PendingHumanSelect != nil {
		p := *s.PendingHumanSelect
		p.Options = append([]string(nil), s.PendingHumanSelect.Options...)
		out.PendingHumanSelect = &p
	}
	if s.CostLimit != nil {
		c := *s.CostLimit
		out.CostLimit = &c
	}
	if s.Interruption != nil {
		i := *s.Interruption
		out.Interruption = &i
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return &out
}

// SessionMetadata is the companion record used for listing, per-user
// filtering, and statistics. Status, cost, and step counters are denormalized
// from the session blob on every write.
type SessionMetadata struct {
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
	Status       Status       `json:"status"`
	TotalCost    float64      `json:"total_cost"`
	TotalSteps   int          `json:"total_steps"`
	ModelConfig  *ModelConfig `json:"model_config,omitempty"`
	AgentConfig  *AgentConfig `json:"agent_config,omitempty"`
}

// StepResult is the per-step history record. The most recent 200 are kept.
type StepResult struct {
	StepIndex       int       `json:"step_index"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	Status          Status    `json:"status"`
	CostDelta       float64   `json:"cost_delta"`
	Events          []Event   `json:"events,omitempty"`
}
