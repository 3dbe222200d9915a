package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// MemoryStore is an in-memory SessionStore used by tests and by deployments
// without a Redis backend. Semantics mirror RedisStore, including TTL expiry
// (checked lazily on read) and the stale-replay guard.
type MemoryStore struct {
	mu  sync.RWMutex
	ttl time.Duration

	states  map[string][]byte
	steps   map[string][][]byte
	metas   map[string]*models.SessionMetadata
	expires map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		states:  make(map[string][]byte),
		steps:   make(map[string][][]byte),
		metas:   make(map[string]*models.SessionMetadata),
		expires: make(map[string]time.Time),
	}
}

// SaveState writes the serialized state and refreshes the TTL.
func (s *MemoryStore) SaveState(ctx context.Context, id string, state *models.Session) error {
	state.LastModified = time.Now()
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = blob
	s.touch(id, state)
	return nil
}

// LoadState deserializes the stored state blob.
func (s *MemoryStore) LoadState(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(id) {
		s.deleteLocked(id)
		return nil, ErrNotFound
	}
	blob, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	var state models.Session
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveStepResult commits state + history + metadata as one unit.
func (s *MemoryStore) SaveStepResult(ctx context.Context, id string, state *models.Session, result *models.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if history := s.steps[id]; len(history) > 0 {
		var newest models.StepResult
		if err := json.Unmarshal(history[0], &newest); err == nil && newest.StepIndex >= result.StepIndex {
			return nil
		}
	}

	state.LastModified = time.Now()
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	resultBlob, err := json.Marshal(result)
	if err != nil {
		return err
	}

	s.states[id] = blob
	s.steps[id] = append([][]byte{resultBlob}, s.steps[id]...)
	if len(s.steps[id]) > StepHistoryLimit {
		s.steps[id] = s.steps[id][:StepHistoryLimit]
	}
	s.touch(id, state)
	return nil
}

// CreateMetadata initializes a fresh metadata record.
func (s *MemoryStore) CreateMetadata(ctx context.Context, id string, meta *models.SessionMetadata) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[id] = &models.SessionMetadata{
		SessionID:    id,
		UserID:       meta.UserID,
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       models.StatusIdle,
		ModelConfig:  meta.ModelConfig,
		AgentConfig:  meta.AgentConfig,
	}
	s.expires[id] = now.Add(s.ttl)
	return nil
}

// GetMetadata returns a copy of the metadata record.
func (s *MemoryStore) GetMetadata(ctx context.Context, id string) (*models.SessionMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(id) {
		s.deleteLocked(id)
		return nil, ErrNotFound
	}
	meta, ok := s.metas[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *meta
	return &copied, nil
}

// ListActive returns metadata for non-terminal sessions.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*models.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SessionMetadata
	for id, meta := range s.metas {
		if s.expired(id) || meta.Status.IsTerminal() {
			continue
		}
		copied := *meta
		out = append(out, &copied)
	}
	return out, nil
}

// GetHistory returns up to limit step results, newest first.
func (s *MemoryStore) GetHistory(ctx context.Context, id string, limit int) ([]*models.StepResult, error) {
	if limit <= 0 || limit > StepHistoryLimit {
		limit = StepHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.steps[id]
	if len(history) > limit {
		history = history[:limit]
	}
	out := make([]*models.StepResult, 0, len(history))
	for _, blob := range history {
		var sr models.StepResult
		if err := json.Unmarshal(blob, &sr); err != nil {
			continue
		}
		out = append(out, &sr)
	}
	return out, nil
}

// DeleteSession removes all state for the session.
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

// CleanupExpired removes sessions past their TTL.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.metas {
		if s.expired(id) {
			s.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) touch(id string, state *models.Session) {
	now := time.Now()
	s.expires[id] = now.Add(s.ttl)
	meta, ok := s.metas[id]
	if !ok {
		meta = &models.SessionMetadata{SessionID: id, CreatedAt: now}
		s.metas[id] = meta
	}
	meta.Status = state.Status
	meta.TotalCost = state.Cost.Total
	meta.TotalSteps = state.StepCount
	meta.LastActiveAt = now
}

func (s *MemoryStore) expired(id string) bool {
	exp, ok := s.expires[id]
	return ok && time.Now().After(exp)
}

func (s *MemoryStore) deleteLocked(id string) {
	delete(s.states, id)
	delete(s.steps, id)
	delete(s.metas, id)
	delete(s.expires, id)
}
