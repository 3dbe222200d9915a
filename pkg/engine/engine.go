// Package engine drives one session step per queue callback: load state,
// decide, execute, persist, and schedule the follow-up.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/stride/pkg/agent"
	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/queue"
	"github.com/codeready-toolchain/stride/pkg/store"
)

// DefaultStepBudget is the soft wall-clock budget per step.
const DefaultStepBudget = 120 * time.Second

// StepSummary is the structured response returned to the queue callback.
type StepSummary struct {
	SessionID       string        `json:"session_id"`
	StepIndex       int           `json:"step_index"`
	Status          models.Status `json:"status"`
	Instruction     string        `json:"instruction,omitempty"`
	ExecutionTimeMS int64         `json:"execution_time_ms"`
	HasNextContext  bool          `json:"has_next_context"`
	Scheduled       bool          `json:"scheduled"`
	Skipped         bool          `json:"skipped,omitempty"`
	SkipReason      string        `json:"skip_reason,omitempty"`
}

// Engine executes steps. It holds no per-session state; all coordination
// happens through the state store and the queue.
type Engine struct {
	store      store.SessionStore
	stream     events.EventStream
	executors  *agent.Executors
	runner     agent.Runner
	queue      queue.StepQueue
	stepBudget time.Duration
	logger     *slog.Logger
}

// New creates a step engine. A zero stepBudget selects DefaultStepBudget.
func New(st store.SessionStore, stream events.EventStream, execs *agent.Executors, runner agent.Runner, q queue.StepQueue, stepBudget time.Duration, logger *slog.Logger) *Engine {
	if stepBudget <= 0 {
		stepBudget = DefaultStepBudget
	}
	return &Engine{
		store:      st,
		stream:     stream,
		executors:  execs,
		runner:     runner,
		queue:      q,
		stepBudget: stepBudget,
		logger:     logger.With("component", "engine"),
	}
}

// ExecuteStep runs one step for the task. Returning a non-nil error signals
// the queue to retry; stale, interrupted, and logic-error outcomes return a
// summary with no error so the queue acknowledges without retrying.
func (e *Engine) ExecuteStep(ctx context.Context, task *models.StepTask) (*StepSummary, error) {
	if task == nil || task.SessionID == "" {
		return nil, fmt.Errorf("step task missing session id")
	}

	state, err := e.store.LoadState(ctx, task.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", task.SessionID, err)
	}

	// Queue tasks are not cancellable once dispatched; deletion marks the
	// session interrupted and the step aborts here.
	if state.Status == models.StatusInterrupted {
		return e.skip(task, state, "session interrupted"), nil
	}
	// At-least-once delivery: a replayed task targets an already-persisted
	// step. Acknowledge without re-executing.
	if task.StepIndex < state.StepCount {
		return e.skip(task, state, "stale step"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.stepBudget)
	defer cancel()

	rec := agent.NewRecorder(e.stream, task.SessionID, task.StepIndex)

	stepCtx := task.Context
	if stepCtx == nil {
		stepCtx = &models.StepContext{Phase: models.PhaseUserInput}
	}

	if err := rec.Publish(ctx, models.EventStepStart, events.StepStartData{
		Phase:    stepCtx.Phase,
		ToolCall: task.ApprovedToolCall,
	}); err != nil {
		return nil, err
	}

	// Human-intervention branch. Rejection terminates the session without
	// consulting the runner; approval and input rewrite the context.
	if task.RejectionReason != "" {
		return e.completeRejection(ctx, task, state, rec)
	}
	if merged, ok := e.mergeIntervention(task, state, stepCtx); ok {
		stepCtx = merged
	}

	if state.Status == models.StatusIdle {
		state.Status = models.StatusRunning
	}

	instr := e.runner.Decide(stepCtx, state)
	if instr.Type == "" {
		return e.failLogicError(ctx, task, state, rec, fmt.Errorf("runner returned empty instruction"))
	}

	start := time.Now()
	result, err := e.executors.Execute(ctx, instr, state, rec)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, agent.ErrInvalidInstruction) {
			return e.failLogicError(ctx, task, state, rec, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.failBudgetExceeded(task, state, rec, elapsed)
		}
		// Executor fault: the error event is already on the stream; a
		// non-2xx response makes the queue redeliver.
		return nil, fmt.Errorf("execute %s for session %s step %d: %w", instr.Type, task.SessionID, task.StepIndex, err)
	}

	newState := result.NewState
	if newState.StepCount <= task.StepIndex {
		newState.StepCount = task.StepIndex + 1
	}

	stepResult := &models.StepResult{
		StepIndex:       task.StepIndex,
		ExecutionTimeMS: elapsed,
		Timestamp:       time.Now().UTC(),
		Status:          newState.Status,
		CostDelta:       newState.Cost.Total - state.Cost.Total,
		Events:          result.Published,
	}
	if err := e.store.SaveStepResult(ctx, task.SessionID, newState, stepResult); err != nil {
		return nil, fmt.Errorf("persist step %d for session %s: %w", task.StepIndex, task.SessionID, err)
	}

	if err := rec.Publish(ctx, models.EventStepComplete, events.StepCompleteData{
		Status:          newState.Status,
		TotalSteps:      newState.StepCount,
		ExecutionTimeMS: elapsed,
		HasNextContext:  result.NextContext != nil,
	}); err != nil {
		return nil, err
	}
	if instr.Type == agent.InstructionFinish {
		if err := rec.Publish(ctx, models.EventDone, events.DoneData{
			Reason:       result.Reason,
			ReasonDetail: result.ReasonDetail,
		}); err != nil {
			return nil, err
		}
	}

	scheduled := false
	if e.shouldContinue(task, newState, result.NextContext) {
		if err := e.scheduleNext(ctx, task, newState, result.NextContext); err != nil {
			return nil, err
		}
		scheduled = true
	}

	return &StepSummary{
		SessionID:       task.SessionID,
		StepIndex:       task.StepIndex,
		Status:          newState.Status,
		Instruction:     string(instr.Type),
		ExecutionTimeMS: elapsed,
		HasNextContext:  result.NextContext != nil,
		Scheduled:       scheduled,
	}, nil
}

// mergeIntervention folds an approval or human input into the step context.
// Returns the rewritten context and whether a rewrite happened.
func (e *Engine) mergeIntervention(task *models.StepTask, state *models.Session, stepCtx *models.StepContext) (*models.StepContext, bool) {
	if task.ApprovedToolCall != nil && state.Status == models.StatusWaitingForHuman {
		state.ClearPending()
		state.Status = models.StatusRunning
		return &models.StepContext{
			Phase: models.PhaseLLMResult,
			Payload: models.ContextPayload{
				ToolCalls:    []models.ToolCall{*task.ApprovedToolCall},
				HasToolCalls: true,
				Approved:     true,
			},
			Session: stepCtx.Session,
		}, true
	}

	if task.HumanInput != nil && state.Status == models.StatusWaitingForHuman {
		input := task.HumanInput
		state.ClearPending()
		state.Status = models.StatusRunning

		content := input.Input
		if len(input.Selections) > 0 {
			content = strings.Join(input.Selections, ", ")
		}
		msg := models.Message{Role: models.RoleUser, Content: content}
		if input.ToolCallID != "" {
			msg = models.Message{Role: models.RoleTool, Content: content, ToolCallID: input.ToolCallID}
		}
		state.Messages = append(state.Messages, msg)

		return &models.StepContext{
			Phase:   models.PhaseHumanInput,
			Payload: models.ContextPayload{Message: &msg},
			Session: stepCtx.Session,
		}, true
	}

	return stepCtx, false
}

// completeRejection ends the session after a rejected approval: no tool runs,
// the state goes straight to done, and the terminal done event carries the
// human's reason.
func (e *Engine) completeRejection(ctx context.Context, task *models.StepTask, state *models.Session, rec *agent.Recorder) (*StepSummary, error) {
	state = state.Clone()
	state.ClearPending()
	state.Status = models.StatusDone
	if state.StepCount <= task.StepIndex {
		state.StepCount = task.StepIndex + 1
	}

	stepResult := &models.StepResult{
		StepIndex: task.StepIndex,
		Timestamp: time.Now().UTC(),
		Status:    models.StatusDone,
		Events:    rec.Published(),
	}
	if err := e.store.SaveStepResult(ctx, task.SessionID, state, stepResult); err != nil {
		return nil, fmt.Errorf("persist rejection for session %s: %w", task.SessionID, err)
	}

	if err := rec.Publish(ctx, models.EventStepComplete, events.StepCompleteData{
		Status:     models.StatusDone,
		TotalSteps: state.StepCount,
	}); err != nil {
		return nil, err
	}
	if err := rec.Publish(ctx, models.EventDone, events.DoneData{
		Reason:       "rejected",
		ReasonDetail: task.RejectionReason,
	}); err != nil {
		return nil, err
	}

	return &StepSummary{
		SessionID: task.SessionID,
		StepIndex: task.StepIndex,
		Status:    models.StatusDone,
	}, nil
}

// failLogicError records a runner/instruction fault. The session transitions
// to error and the queue gets a success so it does not retry.
func (e *Engine) failLogicError(ctx context.Context, task *models.StepTask, state *models.Session, rec *agent.Recorder, cause error) (*StepSummary, error) {
	e.logger.Error("logic error",
		"session_id", task.SessionID, "step_index", task.StepIndex, "error", cause)

	if err := rec.Publish(ctx, models.EventError, events.ErrorData{
		Phase: "instruction_dispatch",
		Error: cause.Error(),
	}); err != nil {
		e.logger.Error("failed to publish error event", "session_id", task.SessionID, "error", err)
	}

	state = state.Clone()
	state.Status = models.StatusError
	state.Error = &models.SessionError{Phase: "instruction_dispatch", Message: cause.Error()}
	if err := e.store.SaveState(ctx, task.SessionID, state); err != nil {
		return nil, fmt.Errorf("persist error state for session %s: %w", task.SessionID, err)
	}

	return &StepSummary{
		SessionID: task.SessionID,
		StepIndex: task.StepIndex,
		Status:    models.StatusError,
	}, nil
}

// failBudgetExceeded records a step that blew its wall-clock budget. The
// publish and save use a fresh context since the step context is dead.
func (e *Engine) failBudgetExceeded(task *models.StepTask, state *models.Session, rec *agent.Recorder, elapsed int64) (*StepSummary, error) {
	e.logger.Error("step budget exceeded",
		"session_id", task.SessionID, "step_index", task.StepIndex, "elapsed_ms", elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rec.Publish(ctx, models.EventError, events.ErrorData{
		Phase: "step_budget",
		Error: fmt.Sprintf("step exceeded %s budget", e.stepBudget),
	}); err != nil {
		e.logger.Error("failed to publish error event", "session_id", task.SessionID, "error", err)
	}

	state = state.Clone()
	state.Status = models.StatusError
	state.Error = &models.SessionError{Phase: "step_budget", Message: "step wall-clock budget exceeded"}
	if err := e.store.SaveState(ctx, task.SessionID, state); err != nil {
		return nil, fmt.Errorf("persist timeout state for session %s: %w", task.SessionID, err)
	}

	return &StepSummary{
		SessionID:       task.SessionID,
		StepIndex:       task.StepIndex,
		Status:          models.StatusError,
		ExecutionTimeMS: elapsed,
	}, nil
}

// shouldContinue applies the continuation rule: all conditions must hold for
// the next step to be enqueued.
func (e *Engine) shouldContinue(task *models.StepTask, state *models.Session, next *models.StepContext) bool {
	switch state.Status {
	case models.StatusDone, models.StatusWaitingForHuman, models.StatusError, models.StatusInterrupted:
		return false
	}
	if state.MaxSteps > 0 && state.StepCount >= state.MaxSteps {
		return false
	}
	if limit := state.CostLimit; limit != nil {
		if state.Cost.Total >= limit.MaxTotalCost && limit.OnExceeded == models.CostActionStop {
			return false
		}
	}
	if next == nil {
		return false
	}
	return !task.ForceComplete
}

func (e *Engine) scheduleNext(ctx context.Context, task *models.StepTask, state *models.Session, next *models.StepContext) error {
	priority := task.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	nextTask := &models.StepTask{
		SessionID: task.SessionID,
		StepIndex: state.StepCount,
		Context:   next,
		Priority:  priority,
	}
	_, err := e.queue.ScheduleNextStep(ctx, queue.ScheduleParams{
		Task:         nextTask,
		HasToolCalls: next.Phase == models.PhaseToolResult,
		HasErrors:    next.Phase == models.PhaseErrorRecovery || state.Error != nil,
	})
	if err != nil {
		return fmt.Errorf("schedule step %d for session %s: %w", nextTask.StepIndex, task.SessionID, err)
	}
	return nil
}

func (e *Engine) skip(task *models.StepTask, state *models.Session, reason string) *StepSummary {
	e.logger.Info("step skipped",
		"session_id", task.SessionID, "step_index", task.StepIndex, "reason", reason)
	return &StepSummary{
		SessionID:  task.SessionID,
		StepIndex:  task.StepIndex,
		Status:     state.Status,
		Skipped:    true,
		SkipReason: reason,
	}
}
