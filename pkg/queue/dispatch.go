package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/stride/pkg/config"
	"github.com/codeready-toolchain/stride/pkg/models"
)

// DispatchQueue delegates delayed delivery to an external HTTP dispatch
// provider. The provider stores the task, waits out the delay, POSTs the body
// to the callback URL, and retries non-2xx responses up to the configured
// attempt limit on its side.
type DispatchQueue struct {
	cfg    *config.QueueConfig
	client *http.Client

	scheduled atomic.Int64
	failed    atomic.Int64
}

// NewDispatchQueue creates a queue backed by the configured provider.
func NewDispatchQueue(cfg *config.QueueConfig) *DispatchQueue {
	return &DispatchQueue{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// ScheduleNextStep publishes the task with the policy-computed delay.
func (q *DispatchQueue) ScheduleNextStep(ctx context.Context, params ScheduleParams) (string, error) {
	return q.publish(ctx, params.Task, effectiveDelay(params))
}

// ScheduleImmediate publishes the task at high priority with ~100ms delay.
func (q *DispatchQueue) ScheduleImmediate(ctx context.Context, task *models.StepTask) (string, error) {
	task.Priority = models.PriorityHigh
	return q.publish(ctx, task, ImmediateDelay)
}

// ScheduleBatch publishes several tasks.
func (q *DispatchQueue) ScheduleBatch(ctx context.Context, params []ScheduleParams) ([]string, error) {
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

// Cancel is a no-op: the provider does not support cancelling published
// tasks. The step engine's interrupted-status check at load time covers
// deletion instead.
func (q *DispatchQueue) Cancel(ctx context.Context, taskID string) error {
	return nil
}

// Stats returns dispatch counters. Pending is unknown for the external
// provider and reported as zero.
func (q *DispatchQueue) Stats() Stats {
	return Stats{
		Scheduled: q.scheduled.Load(),
		Delivered: q.scheduled.Load() - q.failed.Load(),
		Failed:    q.failed.Load(),
	}
}

// Health probes the provider endpoint.
func (q *DispatchQueue) Health(ctx context.Context) Health {
	h := Health{Provider: "dispatch"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.cfg.ProviderURL, nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	req.Header.Set("Authorization", "Bearer "+q.cfg.ProviderToken)
	resp, err := q.client.Do(req)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer func() { _ = resp.Body.Close() }()
	h.Healthy = resp.StatusCode < http.StatusInternalServerError
	if !h.Healthy {
		h.Error = fmt.Sprintf("provider returned %d", resp.StatusCode)
	}
	return h
}

// publish POSTs the serialized task to the provider's publish endpoint with
// the delay and retry limit carried as headers.
func (q *DispatchQueue) publish(ctx context.Context, task *models.StepTask, delay time.Duration) (string, error) {
	if task == nil {
		return "", fmt.Errorf("nil task")
	}
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshaling task: %w", err)
	}

	url := q.cfg.ProviderURL + "/v2/publish/" + q.cfg.CallbackURL
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building publish request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.cfg.ProviderToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Delay", strconv.FormatInt(delay.Milliseconds(), 10)+"ms")
	req.Header.Set("Upstash-Retries", strconv.Itoa(q.cfg.MaxAttempts))

	resp, err := q.client.Do(req)
	if err != nil {
		q.failed.Add(1)
		return "", fmt.Errorf("publishing task: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		q.failed.Add(1)
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("provider rejected task: %d %s", resp.StatusCode, payload)
	}

	var published struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&published); err != nil || published.MessageID == "" {
		// Some providers return an empty body on success.
		published.MessageID = task.TaskID
	}
	q.scheduled.Add(1)
	return published.MessageID, nil
}
