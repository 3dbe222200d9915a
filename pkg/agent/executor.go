package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/llm"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/tools"
)

// Sentinel errors for execution.
var (
	// ErrInvalidInstruction indicates the runner produced an instruction no
	// executor handles, or one missing its required fields.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// CostModel prices one step's token usage. The default prices everything at
// zero; deployments that enforce cost limits supply a real table.
type CostModel func(model string, usage models.Usage) float64

// ZeroCost is the default CostModel.
func ZeroCost(string, models.Usage) float64 { return 0 }

// Result is an executor's outcome. NewState is always set; NextContext is
// nil for halting instructions. Published collects the events the executor
// appended to the stream, in publish order, for the step history record.
type Result struct {
	NewState    *models.Session
	NextContext *models.StepContext
	Published   []models.Event

	// Reason and ReasonDetail are set by the finish executor; the engine
	// folds them into the terminal done event.
	Reason       string
	ReasonDetail string
}

type execFunc func(ctx context.Context, instr Instruction, state *models.Session, rec *Recorder) (*Result, error)

// Executors dispatches instructions to their executors. The table is keyed
// by instruction tag; unknown tags are a logic error surfaced to the engine.
type Executors struct {
	providers *llm.Registry
	host      tools.Host
	mirror    MessageMirror
	costModel CostModel
	logger    *slog.Logger

	table map[InstructionType]execFunc
}

// Option configures Executors.
type Option func(*Executors)

// WithMirror sets the external message mirror.
func WithMirror(m MessageMirror) Option {
	return func(e *Executors) { e.mirror = m }
}

// WithCostModel sets the usage pricing function.
func WithCostModel(cm CostModel) Option {
	return func(e *Executors) { e.costModel = cm }
}

// NewExecutors creates the executor set.
func NewExecutors(providers *llm.Registry, host tools.Host, logger *slog.Logger, opts ...Option) *Executors {
	e := &Executors{
		providers: providers,
		host:      host,
		mirror:    NopMirror{},
		costModel: ZeroCost,
		logger:    logger.With("component", "executors"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table = map[InstructionType]execFunc{
		InstructionCallLLM:            e.executeLLM,
		InstructionCallTool:           e.executeTool,
		InstructionRequestApproval:    e.executeHuman,
		InstructionRequestHumanInput:  e.executeHuman,
		InstructionRequestHumanSelect: e.executeHuman,
		InstructionFinish:             e.executeFinish,
	}
	return e
}

// Execute runs one instruction against a state clone and returns the
// outcome. The caller owns persistence; executors only publish events and
// build the replacement state.
func (e *Executors) Execute(ctx context.Context, instr Instruction, state *models.Session, rec *Recorder) (*Result, error) {
	fn, ok := e.table[instr.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInstruction, instr.Type)
	}
	return fn(ctx, instr, state.Clone(), rec)
}

// Recorder publishes events for one step and keeps the published copies so
// the engine can persist them with the step result.
type Recorder struct {
	stream    events.EventStream
	sessionID string
	stepIndex int
	published []models.Event
}

// NewRecorder creates a recorder bound to one step.
func NewRecorder(stream events.EventStream, sessionID string, stepIndex int) *Recorder {
	return &Recorder{stream: stream, sessionID: sessionID, stepIndex: stepIndex}
}

// Publish appends one event to the session stream.
func (r *Recorder) Publish(ctx context.Context, t models.EventType, data any) error {
	evt := events.New(t, r.sessionID, r.stepIndex, data)
	id, err := r.stream.Publish(ctx, r.sessionID, evt)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", t, err)
	}
	evt.ID = id
	r.published = append(r.published, *evt)
	return nil
}

// Published returns the events published through this recorder so far.
func (r *Recorder) Published() []models.Event {
	return r.published
}

// SessionID returns the bound session id.
func (r *Recorder) SessionID() string { return r.sessionID }

// StepIndex returns the bound step index.
func (r *Recorder) StepIndex() int { return r.stepIndex }
