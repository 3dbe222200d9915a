// Package agent decides and executes what a session does next. The runner
// maps a step context onto an instruction; the executors carry instructions
// out against the model, the tool host, and the session state.
package agent

import (
	"github.com/codeready-toolchain/stride/pkg/models"
)

// InstructionType tags the instruction union.
type InstructionType string

// Instruction tags.
const (
	InstructionCallLLM            InstructionType = "call_llm"
	InstructionCallTool           InstructionType = "call_tool"
	InstructionRequestApproval    InstructionType = "request_human_approve"
	InstructionRequestHumanInput  InstructionType = "request_human_prompt"
	InstructionRequestHumanSelect InstructionType = "request_human_select"
	InstructionFinish             InstructionType = "finish"
)

// Instruction is the runner's decision of what the next step does. Only the
// fields matching the type are set; use the constructors.
//
// Finish and the three request_* instructions halt continuation: their
// executors never produce a next context.
type Instruction struct {
	Type InstructionType

	// InstructionCallTool: the single call to execute.
	ToolCall *models.ToolCall

	// InstructionRequestApproval: the calls awaiting approval.
	// InstructionCallTool: the calls still queued behind ToolCall.
	ToolCalls []models.ToolCall

	// InstructionRequestHumanInput / InstructionRequestHumanSelect.
	Prompt *models.PendingHumanPrompt
	Select *models.PendingHumanSelect

	// InstructionFinish.
	Reason       string
	ReasonDetail string
}

// Halts reports whether the instruction's executor never yields a next
// context.
func (i Instruction) Halts() bool {
	switch i.Type {
	case InstructionFinish, InstructionRequestApproval, InstructionRequestHumanInput, InstructionRequestHumanSelect:
		return true
	}
	return false
}

// CallLLM builds a call_llm instruction.
func CallLLM() Instruction {
	return Instruction{Type: InstructionCallLLM}
}

// CallTool builds a call_tool instruction executing call now; any remaining
// calls from the same turn ride along and are dispatched on later steps.
func CallTool(call models.ToolCall, remaining ...models.ToolCall) Instruction {
	return Instruction{Type: InstructionCallTool, ToolCall: &call, ToolCalls: remaining}
}

// RequestApproval builds a request_human_approve instruction.
func RequestApproval(calls []models.ToolCall) Instruction {
	return Instruction{Type: InstructionRequestApproval, ToolCalls: calls}
}

// RequestHumanInput builds a request_human_prompt instruction.
func RequestHumanInput(prompt models.PendingHumanPrompt) Instruction {
	return Instruction{Type: InstructionRequestHumanInput, Prompt: &prompt}
}

// RequestHumanSelect builds a request_human_select instruction.
func RequestHumanSelect(sel models.PendingHumanSelect) Instruction {
	return Instruction{Type: InstructionRequestHumanSelect, Select: &sel}
}

// Finish builds a finish instruction.
func Finish(reason, detail string) Instruction {
	return Instruction{Type: InstructionFinish, Reason: reason, ReasonDetail: detail}
}
