package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// MemoryStream is an in-memory EventStream for tests and single-process
// deployments. It mirrors the Redis semantics: bounded logs, monotonic ids of
// the form "<millis>-<seq>", and blocking subscriptions with resume-from-id.
type MemoryStream struct {
	mu     sync.Mutex
	maxLen int
	seq    int64
	logs   map[string][]models.Event
	// waiters receive the published batch directly, the way a blocked
	// XREAD gets entries pushed at XADD time. Hand-off on publish means a
	// subscriber still sees the final events of a log that is deleted
	// right after they are written.
	waiters map[string][]chan []models.Event
}

// NewMemoryStream creates an empty in-memory stream with the given log bound.
func NewMemoryStream(maxLen int) *MemoryStream {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryStream{
		maxLen:  maxLen,
		logs:    make(map[string][]models.Event),
		waiters: make(map[string][]chan []models.Event),
	}
}

// Publish appends the event and wakes subscribers.
func (s *MemoryStream) Publish(ctx context.Context, sessionID string, event *models.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	s.seq++
	stored := *event
	stored.ID = fmt.Sprintf("%d-%d", event.Timestamp, s.seq)
	stored.SessionID = sessionID

	log := append(s.logs[sessionID], stored)
	if len(log) > s.maxLen {
		log = log[len(log)-s.maxLen:]
	}
	s.logs[sessionID] = log
	event.ID = stored.ID

	for _, ch := range s.waiters[sessionID] {
		ch <- []models.Event{stored}
	}
	delete(s.waiters, sessionID)
	return stored.ID, nil
}

// History returns up to count events, newest first.
func (s *MemoryStream) History(ctx context.Context, sessionID string, count int) ([]models.Event, error) {
	if count <= 0 {
		count = DefaultHistoryCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[sessionID]
	if len(log) > count {
		log = log[len(log)-count:]
	}
	out := make([]models.Event, len(log))
	for i, evt := range log {
		out[len(log)-1-i] = evt
	}
	return out, nil
}

// Subscribe delivers events strictly after fromID until ctx is cancelled.
func (s *MemoryStream) Subscribe(ctx context.Context, sessionID, fromID string, handler Handler) error {
	last := fromID
	for {
		batch, wait := s.collect(sessionID, last)
		if len(batch) > 0 {
			if err := handler(batch); err != nil {
				return fmt.Errorf("event handler: %w", err)
			}
			last = batch[len(batch)-1].ID
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case pushed := <-wait:
			if err := handler(pushed); err != nil {
				return fmt.Errorf("event handler: %w", err)
			}
			last = pushed[len(pushed)-1].ID
		}
	}
}

// Cleanup deletes the session's log.
func (s *MemoryStream) Cleanup(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
	return nil
}

// Ping always succeeds for the in-memory stream.
func (s *MemoryStream) Ping(ctx context.Context) error { return nil }

// collect returns the events published after fromID. When the result is
// empty it registers a waiter channel that receives the next published
// batch, even if the log is deleted before the caller wakes up.
func (s *MemoryStream) collect(sessionID, fromID string) ([]models.Event, <-chan []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sessionID]
	start := 0
	if fromID != "" && fromID != "0" {
		for i := len(log) - 1; i >= 0; i-- {
			if compareIDs(log[i].ID, fromID) <= 0 {
				start = i + 1
				break
			}
		}
	}
	if start < len(log) {
		batch := make([]models.Event, len(log)-start)
		copy(batch, log[start:])
		return batch, nil
	}

	ch := make(chan []models.Event, 1)
	s.waiters[sessionID] = append(s.waiters[sessionID], ch)
	return nil, ch
}

// compareIDs orders stream ids of the form "<millis>-<seq>". Ids that do not
// parse compare as strings.
func compareIDs(a, b string) int {
	var aMS, aSeq, bMS, bSeq int64
	if _, errA := fmt.Sscanf(a, "%d-%d", &aMS, &aSeq); errA == nil {
		if _, errB := fmt.Sscanf(b, "%d-%d", &bMS, &bSeq); errB == nil {
			switch {
			case aMS != bMS:
				if aMS < bMS {
					return -1
				}
				return 1
			case aSeq != bSeq:
				if aSeq < bSeq {
					return -1
				}
				return 1
			default:
				return 0
			}
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
