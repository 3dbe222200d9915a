package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// ChunkType classifies a stream_chunk delta.
type ChunkType string

// Stream chunk types.
const (
	ChunkText      ChunkType = "text"
	ChunkToolCalls ChunkType = "tool_calls"
	ChunkReasoning ChunkType = "reasoning"
	ChunkImage     ChunkType = "image"
)

// StepStartData is the payload for step_start events.
type StepStartData struct {
	Phase    models.Phase     `json:"phase,omitempty"`
	ToolCall *models.ToolCall `json:"toolCall,omitempty"`
}

// StepCompleteData is the payload for step_complete events.
type StepCompleteData struct {
	Status          models.Status `json:"status,omitempty"`
	TotalSteps      int           `json:"total_steps,omitempty"`
	ExecutionTimeMS int64         `json:"execution_time_ms,omitempty"`
	HasNextContext  bool          `json:"has_next_context,omitempty"`
	Result          string        `json:"result,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	ReasonDetail    string        `json:"reason_detail,omitempty"`
}

// StreamStartData is the payload for stream_start events.
type StreamStartData struct {
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// StreamChunkData is the payload for stream_chunk events. Content is the
// delta; FullContent is the running accumulation so clients that miss chunks
// can still render the current text.
type StreamChunkData struct {
	ChunkType   ChunkType         `json:"chunk_type"`
	Content     string            `json:"content,omitempty"`
	FullContent string            `json:"full_content,omitempty"`
	ToolCalls   []models.ToolCall `json:"tool_calls,omitempty"`
}

// StreamEndData is the payload for stream_end events.
type StreamEndData struct {
	FinalContent string            `json:"final_content"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
	Grounding    json.RawMessage   `json:"grounding,omitempty"`
	ImageList    []string          `json:"image_list,omitempty"`
	Usage        *models.Usage     `json:"usage,omitempty"`
}

// ToolStartData is the payload for tool_start events.
type ToolStartData struct {
	ToolCall models.ToolCall `json:"toolCall"`
}

// ToolCompleteData is the payload for tool_complete events.
type ToolCompleteData struct {
	ToolCallID      string `json:"tool_call_id"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	Result          string `json:"result,omitempty"`
}

// HumanApprovalRequestData is the payload for human_approval_request events.
type HumanApprovalRequestData struct {
	ToolCalls []models.ToolCall          `json:"tool_calls,omitempty"`
	Prompt    *models.PendingHumanPrompt `json:"prompt,omitempty"`
	Select    *models.PendingHumanSelect `json:"select,omitempty"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Phase string `json:"phase,omitempty"`
	Error string `json:"error"`
}

// DoneData is the payload for done events.
type DoneData struct {
	Reason       string `json:"reason,omitempty"`
	ReasonDetail string `json:"reason_detail,omitempty"`
}

// New builds a canonical event with the payload JSON-serialized and the
// timestamp set to the current time in milliseconds. The id is assigned by
// the stream on publish.
func New(t models.EventType, sessionID string, stepIndex int, data any) *models.Event {
	evt := &models.Event{
		Type:      t,
		StepIndex: stepIndex,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		blob, err := json.Marshal(data)
		if err != nil {
			slog.Warn("Failed to marshal event payload", "type", t, "error", err)
		} else {
			evt.Data = blob
		}
	}
	return evt
}
