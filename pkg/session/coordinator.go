// Package session is the orchestration layer over the state store, the event
// stream, and the step queue: session creation, human interventions, status,
// and deletion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/queue"
	"github.com/codeready-toolchain/stride/pkg/store"
)

// AutoStartDelay is the dispatch delay for step 0 of auto-started sessions.
const AutoStartDelay = 500 * time.Millisecond

// Coordinator orchestrates session lifecycle operations.
type Coordinator struct {
	store          store.SessionStore
	stream         events.EventStream
	queue          queue.StepQueue
	historyDefault int
	logger         *slog.Logger
}

// NewCoordinator creates a session coordinator. historyDefault bounds status
// history slices when the caller does not pass a limit.
func NewCoordinator(st store.SessionStore, stream events.EventStream, q queue.StepQueue, historyDefault int, logger *slog.Logger) *Coordinator {
	if historyDefault <= 0 {
		historyDefault = 50
	}
	return &Coordinator{
		store:          st,
		stream:         stream,
		queue:          q,
		historyDefault: historyDefault,
		logger:         logger.With("component", "coordinator"),
	}
}

// CreateSessionRequest carries session creation parameters.
type CreateSessionRequest struct {
	SessionID   string              `json:"sessionId,omitempty"`
	Messages    []models.Message    `json:"messages,omitempty"`
	ModelConfig models.ModelConfig  `json:"modelConfig"`
	AgentConfig *models.AgentConfig `json:"agentConfig,omitempty"`
	UserID      string              `json:"userId,omitempty"`
	MaxSteps    int                 `json:"maxSteps,omitempty"`
	CostLimit   *models.CostLimit   `json:"costLimit,omitempty"`
	AutoStart   *bool               `json:"autoStart,omitempty"`
}

// CreateSessionResponse describes the created session.
type CreateSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Status    models.Status `json:"status"`
	AutoStart bool          `json:"autoStart"`
	TaskID    string        `json:"taskId,omitempty"`
}

// CreateSession writes the initial state and metadata and, unless auto-start
// is disabled, enqueues step 0 at high priority.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if req.ModelConfig.Model == "" {
		return nil, NewValidationError("modelConfig.model", "required")
	}
	if req.ModelConfig.Provider == "" {
		return nil, NewValidationError("modelConfig.provider", "required")
	}

	id := req.SessionID
	if id == "" {
		id = uuid.New().String()
	}

	state := &models.Session{
		ID:          id,
		Status:      models.StatusIdle,
		Messages:    models.CloneMessages(req.Messages),
		ModelConfig: req.ModelConfig,
		MaxSteps:    req.MaxSteps,
		CostLimit:   req.CostLimit,
	}
	if req.AgentConfig != nil {
		state.AgentConfig = *req.AgentConfig
	}

	if err := c.store.SaveState(ctx, id, state); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}
	meta := &models.SessionMetadata{
		SessionID:   id,
		UserID:      req.UserID,
		ModelConfig: &state.ModelConfig,
		AgentConfig: &state.AgentConfig,
	}
	if err := c.store.CreateMetadata(ctx, id, meta); err != nil {
		return nil, fmt.Errorf("create metadata: %w", err)
	}

	autoStart := req.AutoStart == nil || *req.AutoStart
	resp := &CreateSessionResponse{SessionID: id, Status: state.Status, AutoStart: autoStart}
	if autoStart {
		taskID, err := c.queue.ScheduleNextStep(ctx, queue.ScheduleParams{
			Task: &models.StepTask{
				SessionID: id,
				StepIndex: 0,
				Context:   &models.StepContext{Phase: models.PhaseUserInput},
				Priority:  models.PriorityHigh,
			},
			Delay: AutoStartDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue step 0: %w", err)
		}
		resp.TaskID = taskID
	}

	c.logger.Info("session created",
		"session_id", id, "auto_start", autoStart,
		"provider", state.ModelConfig.Provider, "model", state.ModelConfig.Model)
	return resp, nil
}

// StartRequest enqueues the first step of an existing session.
type StartRequest struct {
	SessionID string              `json:"sessionId"`
	Context   *models.StepContext `json:"context,omitempty"`
	Priority  models.Priority     `json:"priority,omitempty"`
	Delay     time.Duration       `json:"delay,omitempty"`
}

// Start enqueues a step for a session that was created without auto-start.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.SessionID == "" {
		return "", NewValidationError("sessionId", "required")
	}
	state, err := c.store.LoadState(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	if state.Status.IsTerminal() {
		return "", fmt.Errorf("%w: session is %s", ErrConflict, state.Status)
	}

	stepCtx := req.Context
	if stepCtx == nil {
		stepCtx = &models.StepContext{Phase: models.PhaseUserInput}
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityHigh
	}

	taskID, err := c.queue.ScheduleNextStep(ctx, queue.ScheduleParams{
		Task: &models.StepTask{
			SessionID: req.SessionID,
			StepIndex: state.StepCount,
			Context:   stepCtx,
			Priority:  priority,
		},
		Delay: req.Delay,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue step %d: %w", state.StepCount, err)
	}
	return taskID, nil
}

// InterventionAction is the human's response kind.
type InterventionAction string

// Intervention actions.
const (
	ActionApprove InterventionAction = "approve"
	ActionReject  InterventionAction = "reject"
	ActionInput   InterventionAction = "input"
	ActionSelect  InterventionAction = "select"
)

// InterventionData carries the action payload.
type InterventionData struct {
	ApprovedToolCall *models.ToolCall `json:"approvedToolCall,omitempty"`
	Input            string           `json:"input,omitempty"`
	Selections       []string         `json:"selections,omitempty"`
	ToolCallID       string           `json:"toolCallId,omitempty"`
}

// InterventionRequest is a human response to a waiting session.
type InterventionRequest struct {
	SessionID string             `json:"sessionId"`
	Action    InterventionAction `json:"action"`
	Data      InterventionData   `json:"data,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// ProcessIntervention validates the response against the matching pending_*
// field and enqueues an immediate follow-up step carrying the payload. State
// is not mutated here; the step engine folds the intervention in, so a
// scheduling failure leaves the session still waiting and retryable.
func (c *Coordinator) ProcessIntervention(ctx context.Context, req InterventionRequest) (string, error) {
	if req.SessionID == "" {
		return "", NewValidationError("sessionId", "required")
	}
	state, err := c.store.LoadState(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	if state.Status != models.StatusWaitingForHuman {
		return "", fmt.Errorf("%w: session is %s, not waiting for human input", ErrConflict, state.Status)
	}

	task := &models.StepTask{
		SessionID: req.SessionID,
		StepIndex: state.StepCount,
		Priority:  models.PriorityHigh,
	}

	switch req.Action {
	case ActionApprove:
		if req.Data.ApprovedToolCall == nil {
			return "", NewValidationError("data.approvedToolCall", "required for approve")
		}
		if !pendingHasCall(state.PendingToolsCalling, req.Data.ApprovedToolCall.ID) {
			return "", NewValidationError("data.approvedToolCall.id", "not in pending tool calls")
		}
		task.ApprovedToolCall = req.Data.ApprovedToolCall

	case ActionReject:
		if len(state.PendingToolsCalling) == 0 {
			return "", fmt.Errorf("%w: no pending tool calls to reject", ErrConflict)
		}
		task.RejectionReason = req.Reason
		if task.RejectionReason == "" {
			task.RejectionReason = "rejected"
		}

	case ActionInput:
		if state.PendingHumanPrompt == nil {
			return "", fmt.Errorf("%w: session has no pending prompt", ErrConflict)
		}
		if req.Data.Input == "" {
			return "", NewValidationError("data.input", "required for input")
		}
		task.HumanInput = &models.HumanInputPayload{
			Input:      req.Data.Input,
			ToolCallID: req.Data.ToolCallID,
		}

	case ActionSelect:
		if state.PendingHumanSelect == nil {
			return "", fmt.Errorf("%w: session has no pending select", ErrConflict)
		}
		if len(req.Data.Selections) == 0 {
			return "", NewValidationError("data.selections", "required for select")
		}
		if !state.PendingHumanSelect.Multiple && len(req.Data.Selections) > 1 {
			return "", NewValidationError("data.selections", "select accepts a single option")
		}
		for _, sel := range req.Data.Selections {
			if !contains(state.PendingHumanSelect.Options, sel) {
				return "", NewValidationError("data.selections", fmt.Sprintf("%q is not an option", sel))
			}
		}
		task.HumanInput = &models.HumanInputPayload{Selections: req.Data.Selections}

	default:
		return "", NewValidationError("action", fmt.Sprintf("unknown action %q", req.Action))
	}

	taskID, err := c.queue.ScheduleImmediate(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue intervention step: %w", err)
	}

	c.logger.Info("intervention accepted",
		"session_id", req.SessionID, "action", req.Action, "task_id", taskID)
	return taskID, nil
}

// SessionStats summarizes session counters.
type SessionStats struct {
	StepCount    int          `json:"stepCount"`
	MessageCount int          `json:"messageCount"`
	EventCount   int          `json:"eventCount"`
	TotalCost    float64      `json:"totalCost"`
	Usage        models.Usage `json:"usage"`
}

// StatusRequest selects what GetStatus returns.
type StatusRequest struct {
	SessionID      string
	IncludeHistory bool
	HistoryLimit   int
}

// StatusResponse is the full session descriptor.
type StatusResponse struct {
	CurrentState     *models.Session         `json:"currentState"`
	Metadata         *models.SessionMetadata `json:"metadata,omitempty"`
	Stats            SessionStats            `json:"stats"`
	ExecutionHistory []*models.StepResult    `json:"executionHistory,omitempty"`
	RecentEvents     []models.Event          `json:"recentEvents,omitempty"`
	IsActive         bool                    `json:"isActive"`
	IsCompleted      bool                    `json:"isCompleted"`
	HasError         bool                    `json:"hasError"`
	NeedsHumanInput  bool                    `json:"needsHumanInput"`
}

// GetStatus returns the session descriptor, optionally with step history and
// recent events.
func (c *Coordinator) GetStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("sessionId", "required")
	}
	state, err := c.store.LoadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	meta, err := c.store.GetMetadata(ctx, req.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	recent, err := c.stream.History(ctx, req.SessionID, c.historyDefault)
	if err != nil {
		c.logger.Warn("event history unavailable", "session_id", req.SessionID, "error", err)
	}

	resp := &StatusResponse{
		CurrentState: state,
		Metadata:     meta,
		Stats: SessionStats{
			StepCount:    state.StepCount,
			MessageCount: len(state.Messages),
			EventCount:   len(recent),
			TotalCost:    state.Cost.Total,
			Usage:        state.Usage,
		},
		RecentEvents: recent,
		IsActive: state.Status == models.StatusRunning ||
			state.Status == models.StatusIdle ||
			state.Status == models.StatusWaitingForHuman,
		IsCompleted:     state.Status == models.StatusDone,
		HasError:        state.Status == models.StatusError,
		NeedsHumanInput: state.NeedsHumanInput(),
	}

	// Cost-stopped sessions stay in their executor-set status; they are not
	// active because the continuation rule blocks further steps.
	if limit := state.CostLimit; limit != nil &&
		state.Cost.Total >= limit.MaxTotalCost && limit.OnExceeded == models.CostActionStop {
		resp.IsActive = false
	}

	if req.IncludeHistory {
		limit := req.HistoryLimit
		if limit <= 0 {
			limit = c.historyDefault
		}
		history, err := c.store.GetHistory(ctx, req.SessionID, limit)
		if err != nil {
			return nil, fmt.Errorf("load step history: %w", err)
		}
		resp.ExecutionHistory = history
	}

	return resp, nil
}

// DeleteSession removes a session. A running or waiting session is first
// interrupted with can_resume=false and an error event is published so live
// subscribers learn about the deletion before the log disappears.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return NewValidationError("sessionId", "required")
	}
	state, err := c.store.LoadState(ctx, id)
	if err != nil {
		return err
	}

	if state.Status == models.StatusRunning || state.Status == models.StatusWaitingForHuman {
		state.Status = models.StatusInterrupted
		state.Interruption = &models.Interruption{
			Reason:        "deleted by user",
			CanResume:     false,
			InterruptedAt: time.Now().UTC(),
		}
		if err := c.store.SaveState(ctx, id, state); err != nil {
			return fmt.Errorf("interrupt session: %w", err)
		}

		evt := events.New(models.EventError, id, state.StepCount, events.ErrorData{
			Phase: "session_lifecycle",
			Error: "session deleted by user",
		})
		if _, err := c.stream.Publish(ctx, id, evt); err != nil {
			c.logger.Warn("failed to publish deletion event", "session_id", id, "error", err)
		}
	}

	if err := c.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := c.stream.Cleanup(ctx, id); err != nil {
		c.logger.Warn("failed to delete event log", "session_id", id, "error", err)
	}

	c.logger.Info("session deleted", "session_id", id)
	return nil
}

// PendingIntervention describes one session awaiting a human response.
type PendingIntervention struct {
	SessionID string                     `json:"sessionId"`
	UserID    string                     `json:"userId,omitempty"`
	ToolCalls []models.ToolCall          `json:"toolCalls,omitempty"`
	Prompt    *models.PendingHumanPrompt `json:"prompt,omitempty"`
	Select    *models.PendingHumanSelect `json:"select,omitempty"`
	Since     time.Time                  `json:"since"`
}

// ListPendingInterventions returns sessions blocked on human input, filtered
// by session id or user id when given.
func (c *Coordinator) ListPendingInterventions(ctx context.Context, sessionID, userID string) ([]PendingIntervention, error) {
	if sessionID != "" {
		state, err := c.store.LoadState(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !state.NeedsHumanInput() {
			return []PendingIntervention{}, nil
		}
		return []PendingIntervention{pendingFrom(state, "")}, nil
	}

	metas, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	out := []PendingIntervention{}
	for _, meta := range metas {
		if userID != "" && meta.UserID != userID {
			continue
		}
		if meta.Status != models.StatusWaitingForHuman {
			continue
		}
		state, err := c.store.LoadState(ctx, meta.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !state.NeedsHumanInput() {
			continue
		}
		out = append(out, pendingFrom(state, meta.UserID))
	}
	return out, nil
}

func pendingFrom(state *models.Session, userID string) PendingIntervention {
	return PendingIntervention{
		SessionID: state.ID,
		UserID:    userID,
		ToolCalls: state.PendingToolsCalling,
		Prompt:    state.PendingHumanPrompt,
		Select:    state.PendingHumanSelect,
		Since:     state.LastModified,
	}
}

func pendingHasCall(calls []models.ToolCall, id string) bool {
	for _, call := range calls {
		if call.ID == id {
			return true
		}
	}
	return false
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
