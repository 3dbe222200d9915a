package agent

import (
	"context"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// executeFinish marks the session done. The engine publishes the terminal
// done event after the step completes, carrying the reason recorded here.
func (e *Executors) executeFinish(_ context.Context, instr Instruction, state *models.Session, rec *Recorder) (*Result, error) {
	state.Status = models.StatusDone
	state.ClearPending()

	return &Result{
		NewState:     state,
		Published:    rec.Published(),
		Reason:       instr.Reason,
		ReasonDetail: instr.ReasonDetail,
	}, nil
}
