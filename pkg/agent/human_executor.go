package agent

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
)

// executeHuman parks the session waiting for an intervention. Exactly one
// pending_* field is set per the instruction variant, and no next context is
// produced so continuation halts until the intervention arrives.
func (e *Executors) executeHuman(ctx context.Context, instr Instruction, state *models.Session, rec *Recorder) (*Result, error) {
	state.ClearPending()

	request := events.HumanApprovalRequestData{}
	switch instr.Type {
	case InstructionRequestApproval:
		if len(instr.ToolCalls) == 0 {
			return nil, fmt.Errorf("%w: approval request without tool calls", ErrInvalidInstruction)
		}
		state.PendingToolsCalling = append([]models.ToolCall(nil), instr.ToolCalls...)
		request.ToolCalls = state.PendingToolsCalling
	case InstructionRequestHumanInput:
		if instr.Prompt == nil {
			return nil, fmt.Errorf("%w: prompt request without a prompt", ErrInvalidInstruction)
		}
		p := *instr.Prompt
		state.PendingHumanPrompt = &p
		request.Prompt = &p
	case InstructionRequestHumanSelect:
		if instr.Select == nil {
			return nil, fmt.Errorf("%w: select request without options", ErrInvalidInstruction)
		}
		s := *instr.Select
		state.PendingHumanSelect = &s
		request.Select = &s
	default:
		return nil, fmt.Errorf("%w: %q is not a human instruction", ErrInvalidInstruction, instr.Type)
	}
	state.Status = models.StatusWaitingForHuman

	if err := rec.Publish(ctx, models.EventHumanApprovalRequest, request); err != nil {
		return nil, err
	}
	if len(request.ToolCalls) > 0 {
		err := rec.Publish(ctx, models.EventStreamChunk, events.StreamChunkData{
			ChunkType: events.ChunkToolCalls,
			ToolCalls: request.ToolCalls,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{NewState: state, Published: rec.Published()}, nil
}
