package models

import "encoding/json"

// EventType tags an event on a session's stream.
type EventType string

// Stream event types.
const (
	EventConnected            EventType = "connected"
	EventHeartbeat            EventType = "heartbeat"
	EventStepStart            EventType = "step_start"
	EventStepComplete         EventType = "step_complete"
	EventStreamStart          EventType = "stream_start"
	EventStreamChunk          EventType = "stream_chunk"
	EventStreamEnd            EventType = "stream_end"
	EventToolStart            EventType = "tool_start"
	EventToolComplete         EventType = "tool_complete"
	EventHumanApprovalRequest EventType = "human_approval_request"
	EventError                EventType = "error"
	EventDone                 EventType = "done"
)

// Event is one immutable record on a session's append-only stream.
// ID is assigned by the stream on publish and is monotonic within a session.
// Timestamp is Unix milliseconds.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	StepIndex int             `json:"step_index"`
	SessionID string          `json:"session_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DataMap unmarshals the event payload into a generic map. Returns an empty
// map when the event carries no payload.
func (e *Event) DataMap() (map[string]any, error) {
	if len(e.Data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
