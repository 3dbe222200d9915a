package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/queue"
	"github.com/codeready-toolchain/stride/pkg/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	scheduled []queue.ScheduleParams
	failWith  error
}

func (q *fakeQueue) ScheduleNextStep(_ context.Context, params queue.ScheduleParams) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return "", q.failWith
	}
	q.scheduled = append(q.scheduled, params)
	return fmt.Sprintf("task-%d", len(q.scheduled)), nil
}

func (q *fakeQueue) ScheduleImmediate(ctx context.Context, task *models.StepTask) (string, error) {
	return q.ScheduleNextStep(ctx, queue.ScheduleParams{Task: task, Delay: queue.ImmediateDelay})
}

func (q *fakeQueue) ScheduleBatch(ctx context.Context, params []queue.ScheduleParams) ([]string, error) {
	var ids []string
	for _, p := range params {
		id, err := q.ScheduleNextStep(ctx, p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *fakeQueue) Cancel(context.Context, string) error { return nil }
func (q *fakeQueue) Stats() queue.Stats                   { return queue.Stats{} }
func (q *fakeQueue) Health(context.Context) queue.Health  { return queue.Health{Healthy: true} }

func (q *fakeQueue) tasks() []queue.ScheduleParams {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.ScheduleParams, len(q.scheduled))
	copy(out, q.scheduled)
	return out
}

func newCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore, *events.MemoryStream, *fakeQueue) {
	t.Helper()
	st := store.NewMemoryStore(24 * time.Hour)
	stream := events.NewMemoryStream(1000)
	q := &fakeQueue{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(st, stream, q, 50, logger), st, stream, q
}

func validCreateRequest() CreateSessionRequest {
	return CreateSessionRequest{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		ModelConfig: models.ModelConfig{Model: "test-model", Provider: "fake"},
	}
}

func TestCreateSessionAutoStart(t *testing.T) {
	c, st, _, q := newCoordinator(t)

	resp, err := c.CreateSession(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, models.StatusIdle, resp.Status)
	assert.True(t, resp.AutoStart)
	assert.NotEmpty(t, resp.TaskID)

	// Exactly one queued task, targeting step 0.
	tasks := q.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 0, tasks[0].Task.StepIndex)
	assert.Equal(t, models.PriorityHigh, tasks[0].Task.Priority)
	assert.Equal(t, models.PhaseUserInput, tasks[0].Task.Context.Phase)
	assert.Equal(t, AutoStartDelay, tasks[0].Delay)

	state, err := st.LoadState(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "hi", state.Messages[0].Content)

	meta, err := st.GetMetadata(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, meta.Status)
}

func TestCreateSessionWithoutAutoStart(t *testing.T) {
	c, _, _, q := newCoordinator(t)

	off := false
	req := validCreateRequest()
	req.AutoStart = &off

	resp, err := c.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.AutoStart)
	assert.Empty(t, resp.TaskID)
	assert.Empty(t, q.tasks())
}

func TestCreateSessionValidation(t *testing.T) {
	c, _, _, _ := newCoordinator(t)

	_, err := c.CreateSession(context.Background(), CreateSessionRequest{
		ModelConfig: models.ModelConfig{Provider: "fake"},
	})
	assert.True(t, IsValidationError(err))

	_, err = c.CreateSession(context.Background(), CreateSessionRequest{
		ModelConfig: models.ModelConfig{Model: "test-model"},
	})
	assert.True(t, IsValidationError(err))
}

func TestStartEnqueuesStep(t *testing.T) {
	c, _, _, q := newCoordinator(t)

	off := false
	req := validCreateRequest()
	req.AutoStart = &off
	resp, err := c.CreateSession(context.Background(), req)
	require.NoError(t, err)

	taskID, err := c.Start(context.Background(), StartRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	tasks := q.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 0, tasks[0].Task.StepIndex)
}

func TestStartUnknownSession(t *testing.T) {
	c, _, _, _ := newCoordinator(t)
	_, err := c.Start(context.Background(), StartRequest{SessionID: "nope"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seedWaiting(t *testing.T, st *store.MemoryStore, mutate func(*models.Session)) *models.Session {
	t.Helper()
	state := &models.Session{
		ID:          "sess-1",
		Status:      models.StatusWaitingForHuman,
		StepCount:   2,
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		ModelConfig: models.ModelConfig{Model: "test-model", Provider: "fake"},
	}
	if mutate != nil {
		mutate(state)
	}
	require.NoError(t, st.SaveState(context.Background(), state.ID, state))
	return state
}

func TestProcessInterventionApprove(t *testing.T) {
	c, st, _, q := newCoordinator(t)
	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`}}
	seedWaiting(t, st, func(s *models.Session) {
		s.PendingToolsCalling = []models.ToolCall{call}
	})

	taskID, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionApprove,
		Data:      InterventionData{ApprovedToolCall: &call},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	tasks := q.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Task.StepIndex)
	require.NotNil(t, tasks[0].Task.ApprovedToolCall)
	assert.Equal(t, "t1", tasks[0].Task.ApprovedToolCall.ID)
	assert.Equal(t, queue.ImmediateDelay, tasks[0].Delay)
}

func TestProcessInterventionApproveUnknownCall(t *testing.T) {
	c, st, _, _ := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.PendingToolsCalling = []models.ToolCall{{ID: "t1", Function: models.ToolCallFunction{Name: "calc"}}}
	})

	_, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionApprove,
		Data: InterventionData{ApprovedToolCall: &models.ToolCall{
			ID: "t9", Function: models.ToolCallFunction{Name: "calc"},
		}},
	})
	assert.True(t, IsValidationError(err))
}

func TestProcessInterventionReject(t *testing.T) {
	c, st, _, q := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.PendingToolsCalling = []models.ToolCall{{ID: "t1", Function: models.ToolCallFunction{Name: "calc"}}}
	})

	_, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionReject,
		Reason:    "no",
	})
	require.NoError(t, err)

	tasks := q.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "no", tasks[0].Task.RejectionReason)
}

func TestProcessInterventionSelectValidation(t *testing.T) {
	c, st, _, q := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.PendingHumanSelect = &models.PendingHumanSelect{
			Prompt:  "pick",
			Options: []string{"a", "b"},
		}
	})

	_, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionSelect,
		Data:      InterventionData{Selections: []string{"c"}},
	})
	assert.True(t, IsValidationError(err))

	_, err = c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionSelect,
		Data:      InterventionData{Selections: []string{"a", "b"}},
	})
	assert.True(t, IsValidationError(err), "single select must reject multiple selections")

	_, err = c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionSelect,
		Data:      InterventionData{Selections: []string{"a"}},
	})
	require.NoError(t, err)
	require.Len(t, q.tasks(), 1)
	assert.Equal(t, []string{"a"}, q.tasks()[0].Task.HumanInput.Selections)
}

func TestProcessInterventionConflict(t *testing.T) {
	c, st, _, _ := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.Status = models.StatusRunning
	})

	_, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionApprove,
		Data:      InterventionData{ApprovedToolCall: &models.ToolCall{ID: "t1"}},
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProcessInterventionScheduleFailure(t *testing.T) {
	c, st, _, q := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.PendingHumanPrompt = &models.PendingHumanPrompt{Prompt: "name?"}
	})
	q.failWith = errors.New("queue down")

	_, err := c.ProcessIntervention(context.Background(), InterventionRequest{
		SessionID: "sess-1",
		Action:    ActionInput,
		Data:      InterventionData{Input: "Ada"},
	})
	require.Error(t, err)

	// The session is untouched and still waiting; the caller can retry.
	state, lErr := st.LoadState(context.Background(), "sess-1")
	require.NoError(t, lErr)
	assert.Equal(t, models.StatusWaitingForHuman, state.Status)
	require.NotNil(t, state.PendingHumanPrompt)
}

func TestGetStatus(t *testing.T) {
	c, st, stream, _ := newCoordinator(t)
	state := seedWaiting(t, st, func(s *models.Session) {
		s.PendingHumanPrompt = &models.PendingHumanPrompt{Prompt: "name?"}
		s.Cost.Total = 0.5
	})
	_, err := stream.Publish(context.Background(), state.ID,
		events.New(models.EventStepStart, state.ID, 0, events.StepStartData{Phase: models.PhaseUserInput}))
	require.NoError(t, err)

	resp, err := c.GetStatus(context.Background(), StatusRequest{SessionID: "sess-1"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaitingForHuman, resp.CurrentState.Status)
	assert.True(t, resp.IsActive)
	assert.False(t, resp.IsCompleted)
	assert.True(t, resp.NeedsHumanInput)
	assert.Equal(t, 2, resp.Stats.StepCount)
	assert.Equal(t, 1, resp.Stats.MessageCount)
	assert.Equal(t, 1, resp.Stats.EventCount)
	assert.InDelta(t, 0.5, resp.Stats.TotalCost, 1e-9)
}

func TestGetStatusCostStoppedIsInactive(t *testing.T) {
	c, st, _, _ := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.Status = models.StatusRunning
		s.Cost.Total = 0.02
		s.CostLimit = &models.CostLimit{MaxTotalCost: 0.01, OnExceeded: models.CostActionStop}
	})

	resp, err := c.GetStatus(context.Background(), StatusRequest{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.False(t, resp.IsActive)
}

func TestDeleteRunningSessionInterruptsFirst(t *testing.T) {
	c, st, stream, _ := newCoordinator(t)
	seedWaiting(t, st, func(s *models.Session) {
		s.Status = models.StatusRunning
	})

	// Capture the deletion event from a live subscription.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan models.Event, 10)
	go func() {
		_ = stream.Subscribe(ctx, "sess-1", "0", func(batch []models.Event) error {
			for _, e := range batch {
				got <- e
			}
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.DeleteSession(context.Background(), "sess-1"))

	select {
	case evt := <-got:
		assert.Equal(t, models.EventError, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected deletion event on the stream")
	}

	_, err := st.LoadState(context.Background(), "sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPendingInterventions(t *testing.T) {
	c, st, _, _ := newCoordinator(t)
	state := &models.Session{
		ID:                 "sess-1",
		Status:             models.StatusWaitingForHuman,
		PendingHumanPrompt: &models.PendingHumanPrompt{Prompt: "name?"},
	}
	require.NoError(t, st.SaveState(context.Background(), state.ID, state))

	pending, err := c.ListPendingInterventions(context.Background(), "sess-1", "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sess-1", pending[0].SessionID)
	require.NotNil(t, pending[0].Prompt)

	// Fleet-wide listing finds the same session.
	pending, err = c.ListPendingInterventions(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A running session reports nothing.
	state.Status = models.StatusRunning
	state.PendingHumanPrompt = nil
	require.NoError(t, st.SaveState(context.Background(), state.ID, state))
	pending, err = c.ListPendingInterventions(context.Background(), "sess-1", "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
