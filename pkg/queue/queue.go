// Package queue provides at-least-once delayed dispatch of step-execution
// tasks back to the service.
//
// Two implementations exist: an in-process timer queue for development and
// single-node deployments, and an HTTP dispatch queue that delegates delivery
// to an external delayed-dispatch provider. Either guarantees that after
// Schedule returns, the task will eventually be delivered to the step
// endpoint with at-least-once semantics; idempotency is the step engine's
// responsibility.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueClosed indicates the queue has been stopped.
	ErrQueueClosed = errors.New("queue closed")
)

// ImmediateDelay is the delay used for high-priority intervention follow-ups.
const ImmediateDelay = 100 * time.Millisecond

// ScheduleParams describes one step dispatch.
type ScheduleParams struct {
	Task *models.StepTask
	// Delay overrides the computed delay when positive.
	Delay time.Duration
	// HasToolCalls and HasErrors describe the previous step's output and
	// feed the delay policy.
	HasToolCalls bool
	HasErrors    bool
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Scheduled int64 `json:"scheduled"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
}

// Health reports queue availability.
type Health struct {
	Healthy  bool   `json:"healthy"`
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}

// StepQueue is the delayed-dispatch contract (C3).
type StepQueue interface {
	// ScheduleNextStep enqueues a step with the policy-computed delay.
	// Returns the provider-assigned task id.
	ScheduleNextStep(ctx context.Context, params ScheduleParams) (string, error)

	// ScheduleImmediate enqueues a step at high priority with ~100ms delay.
	// Used for human-intervention follow-ups.
	ScheduleImmediate(ctx context.Context, task *models.StepTask) (string, error)

	// ScheduleBatch enqueues several steps; returns one task id per entry.
	ScheduleBatch(ctx context.Context, params []ScheduleParams) ([]string, error)

	// Cancel is best-effort; providers without cancellation make it a no-op.
	Cancel(ctx context.Context, taskID string) error

	// Stats returns dispatch counters.
	Stats() Stats

	// Health reports provider availability.
	Health(ctx context.Context) Health
}

// Delay policy bases per priority.
const (
	delayHigh   = 200 * time.Millisecond
	delayNormal = 1000 * time.Millisecond
	delayLow    = 5000 * time.Millisecond

	toolResultPenalty = 1000 * time.Millisecond
	errorBackoffStep  = 1000 * time.Millisecond
	errorBackoffCap   = 10000 * time.Millisecond
)

// CalculateDelay computes the dispatch delay as a pure function of the step
// context: a per-priority base, +1s after tool results, and a capped
// per-step backoff after errors.
func CalculateDelay(priority models.Priority, stepIndex int, hasToolCalls, hasErrors bool) time.Duration {
	var d time.Duration
	switch priority {
	case models.PriorityHigh:
		d = delayHigh
	case models.PriorityLow:
		d = delayLow
	default:
		d = delayNormal
	}
	if hasToolCalls {
		d += toolResultPenalty
	}
	if hasErrors {
		backoff := time.Duration(stepIndex) * errorBackoffStep
		if backoff > errorBackoffCap {
			backoff = errorBackoffCap
		}
		d += backoff
	}
	return d
}

// effectiveDelay resolves the delay for a schedule request.
func effectiveDelay(params ScheduleParams) time.Duration {
	if params.Delay > 0 {
		return params.Delay
	}
	priority := models.PriorityNormal
	stepIndex := 0
	if params.Task != nil {
		if params.Task.Priority != "" {
			priority = params.Task.Priority
		}
		stepIndex = params.Task.StepIndex
	}
	return CalculateDelay(priority, stepIndex, params.HasToolCalls, params.HasErrors)
}
