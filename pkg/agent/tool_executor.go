package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/tools"
)

// executeTool dispatches one tool call to the external host and records the
// result as a tool-role message. A host fault publishes an error event and
// re-raises with state unchanged so the engine can retry or recover.
func (e *Executors) executeTool(ctx context.Context, instr Instruction, state *models.Session, rec *Recorder) (*Result, error) {
	if instr.ToolCall == nil {
		return nil, fmt.Errorf("%w: call_tool without a tool call", ErrInvalidInstruction)
	}
	call := *instr.ToolCall

	if err := rec.Publish(ctx, models.EventToolStart, events.ToolStartData{ToolCall: call}); err != nil {
		return nil, err
	}

	def, err := e.toolDefinition(ctx, call.Function.Name)
	if err != nil {
		e.publishError(ctx, rec, models.PhaseToolResult, err)
		return nil, err
	}
	if err := tools.ValidateArguments(def, call.Function.Arguments); err != nil {
		e.publishError(ctx, rec, models.PhaseToolResult, err)
		return nil, err
	}

	start := time.Now()
	raw, err := e.host.Call(ctx, rec.SessionID(), call)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		e.publishError(ctx, rec, models.PhaseToolResult, err)
		return nil, fmt.Errorf("tool %q: %w", call.Function.Name, err)
	}
	result := string(raw)

	toolMsg := models.Message{
		Role:       models.RoleTool,
		Content:    result,
		ToolCallID: call.ID,
	}
	state.Messages = append(state.Messages, toolMsg)

	if err := e.mirror.Mirror(ctx, rec.SessionID(), rec.StepIndex(), toolMsg); err != nil {
		e.logger.Warn("message mirror failed",
			"session_id", rec.SessionID(), "error", err)
	}

	if err := rec.Publish(ctx, models.EventToolComplete, events.ToolCompleteData{
		ToolCallID:      call.ID,
		ExecutionTimeMS: elapsed,
		Result:          result,
	}); err != nil {
		return nil, err
	}

	next := &models.StepContext{
		Phase: models.PhaseToolResult,
		Payload: models.ContextPayload{
			ToolResult:         result,
			ToolCallID:         call.ID,
			RemainingToolCalls: append([]models.ToolCall(nil), instr.ToolCalls...),
		},
		Session: models.Snapshot(state, len(rec.Published())),
	}
	return &Result{NewState: state, NextContext: next, Published: rec.Published()}, nil
}

func (e *Executors) toolDefinition(ctx context.Context, name string) (tools.Definition, error) {
	defs, err := e.host.Definitions(ctx, []string{name})
	if err != nil {
		return tools.Definition{}, err
	}
	if len(defs) == 0 {
		return tools.Definition{}, fmt.Errorf("%w: %q", tools.ErrUnknownTool, name)
	}
	return defs[0], nil
}
