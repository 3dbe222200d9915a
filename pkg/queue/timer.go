package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// DispatchFunc delivers a task to the step endpoint. The in-process queue is
// wired directly to the step engine's execute entrypoint; a returned error
// counts as a failed delivery attempt.
type DispatchFunc func(ctx context.Context, task *models.StepTask) error

// TimerQueue is the in-process StepQueue used for development and deployments
// without an external dispatch provider. Each scheduled task gets a timer
// goroutine that invokes the dispatch function after the delay, retrying up
// to maxAttempts times.
type TimerQueue struct {
	dispatch    DispatchFunc
	maxAttempts int

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup

	scheduled atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewTimerQueue creates an in-process queue delivering via dispatch.
func NewTimerQueue(dispatch DispatchFunc, maxAttempts int) *TimerQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &TimerQueue{
		dispatch:    dispatch,
		maxAttempts: maxAttempts,
		pending:     make(map[string]*time.Timer),
	}
}

// ScheduleNextStep enqueues a task with the policy-computed delay.
func (q *TimerQueue) ScheduleNextStep(ctx context.Context, params ScheduleParams) (string, error) {
	return q.schedule(params.Task, effectiveDelay(params))
}

// ScheduleImmediate enqueues a task at high priority with ~100ms delay.
func (q *TimerQueue) ScheduleImmediate(ctx context.Context, task *models.StepTask) (string, error) {
	task.Priority = models.PriorityHigh
	return q.schedule(task, ImmediateDelay)
}

// ScheduleBatch enqueues several tasks.
func (q *TimerQueue) ScheduleBatch(ctx context.Context, params []ScheduleParams) ([]string, error) {
	ids := make([]string, 0, len(params))
	for _, p := range params {
		id, err := q.ScheduleNextStep(ctx, p)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel stops a not-yet-fired timer. Tasks already dispatched are not
// cancellable.
func (q *TimerQueue) Cancel(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.pending[taskID]; ok {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.pending, taskID)
	}
	return nil
}

// Stats returns dispatch counters.
func (q *TimerQueue) Stats() Stats {
	q.mu.Lock()
	pending := int64(len(q.pending))
	q.mu.Unlock()
	return Stats{
		Scheduled: q.scheduled.Load(),
		Delivered: q.delivered.Load(),
		Failed:    q.failed.Load(),
		Pending:   pending,
	}
}

// Health reports queue availability.
func (q *TimerQueue) Health(ctx context.Context) Health {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	h := Health{Healthy: !closed, Provider: "timer"}
	if closed {
		h.Error = ErrQueueClosed.Error()
	}
	return h
}

// Stop cancels pending timers and waits for in-flight deliveries.
func (q *TimerQueue) Stop() {
	q.mu.Lock()
	q.closed = true
	for id, timer := range q.pending {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.pending, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *TimerQueue) schedule(task *models.StepTask, delay time.Duration) (string, error) {
	if task == nil {
		return "", fmt.Errorf("nil task")
	}
	taskID := uuid.New().String()
	task.TaskID = taskID

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		delete(q.pending, taskID)
		q.mu.Unlock()
		q.deliver(task)
	})
	q.pending[taskID] = timer
	q.mu.Unlock()

	q.scheduled.Add(1)
	return taskID, nil
}

// deliver invokes the dispatch function with retries. Backoff between
// attempts is linear; three failures abandon the task (mirroring the external
// provider's delivery contract).
func (q *TimerQueue) deliver(task *models.StepTask) {
	log := slog.With("task_id", task.TaskID, "session_id", task.SessionID, "step_index", task.StepIndex)
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := q.dispatch(context.Background(), task)
		if err == nil {
			q.delivered.Add(1)
			return
		}
		log.Warn("Step dispatch attempt failed", "attempt", attempt, "error", err)
		if attempt < q.maxAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	q.failed.Add(1)
	log.Error("Step dispatch abandoned after retries", "attempts", q.maxAttempts)
}
