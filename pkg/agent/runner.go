package agent

import (
	"github.com/codeready-toolchain/stride/pkg/models"
)

// Runner maps a step context and the current session state onto the next
// instruction. Implementations must be pure: no I/O, no mutation of either
// argument.
type Runner interface {
	Decide(stepCtx *models.StepContext, state *models.Session) Instruction
}

// DefaultRunner is the stock policy:
//
//	user_input, human_input, tool_result  -> call_llm
//	llm_result with tool calls            -> request_human_approve when the
//	                                         agent requires approval and the
//	                                         calls are not already approved,
//	                                         otherwise call_tool
//	anything else                         -> finish
//
// Tool calls are dispatched one at a time in the order the model emitted
// them; remaining calls ride along in the context until consumed.
type DefaultRunner struct{}

// Decide implements Runner.
func (DefaultRunner) Decide(stepCtx *models.StepContext, state *models.Session) Instruction {
	switch stepCtx.Phase {
	case models.PhaseUserInput, models.PhaseHumanInput:
		return CallLLM()
	case models.PhaseToolResult:
		// Every call from the same assistant turn needs a tool message
		// before the conversation returns to the model.
		if rest := stepCtx.Payload.RemainingToolCalls; len(rest) > 0 {
			return CallTool(rest[0], rest[1:]...)
		}
		return CallLLM()
	case models.PhaseLLMResult:
		if !stepCtx.Payload.HasToolCalls || len(stepCtx.Payload.ToolCalls) == 0 {
			return Finish("completed", stepCtx.Payload.Result)
		}
		if state.AgentConfig.RequireToolApproval && !stepCtx.Payload.Approved {
			return RequestApproval(stepCtx.Payload.ToolCalls)
		}
		calls := stepCtx.Payload.ToolCalls
		return CallTool(calls[0], calls[1:]...)
	case models.PhaseErrorRecovery:
		return Finish("error", stepCtx.Payload.Error)
	default:
		return Finish("completed", "")
	}
}
