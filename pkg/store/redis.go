package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// Key prefixes for the three per-session keyspaces.
const (
	statePrefix = "state:"
	stepsPrefix = "steps:"
	metaPrefix  = "meta:"
)

// RedisStore implements SessionStore on Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient parses a Redis connection URL and returns a connected client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore creates a SessionStore backed by the given Redis client.
// ttl is the retention window refreshed on every write.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// SaveState writes the state blob and refreshes TTLs in one pipeline.
func (s *RedisStore) SaveState(ctx context.Context, id string, state *models.Session) error {
	state.LastModified = time.Now()
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, statePrefix+id, blob, s.ttl)
	s.denormalizeMeta(ctx, pipe, id, state)
	pipe.Expire(ctx, stepsPrefix+id, s.ttl)
	pipe.Expire(ctx, metaPrefix+id, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	return nil
}

// LoadState reads and deserializes the state blob.
func (s *RedisStore) LoadState(ctx context.Context, id string) (*models.Session, error) {
	blob, err := s.rdb.Get(ctx, statePrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session state: %w", err)
	}
	var state models.Session
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling session state: %w", err)
	}
	return &state, nil
}

// SaveStepResult commits a step as one logical batch. The whole pipeline is
// treated as one commit; on partial failure the error propagates and the
// caller retries — replay of an already-persisted step index is a no-op.
func (s *RedisStore) SaveStepResult(ctx context.Context, id string, state *models.Session, result *models.StepResult) error {
	// Stale-replay guard: the newest history entry carries the highest
	// persisted step index.
	head, err := s.rdb.LIndex(ctx, stepsPrefix+id, 0).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("reading step history head: %w", err)
	}
	if len(head) > 0 {
		var newest models.StepResult
		if jsonErr := json.Unmarshal(head, &newest); jsonErr == nil && newest.StepIndex >= result.StepIndex {
			slog.Debug("Skipping replayed step result",
				"session_id", id, "step_index", result.StepIndex, "persisted", newest.StepIndex)
			return nil
		}
	}

	state.LastModified = time.Now()
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}
	resultBlob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling step result: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, statePrefix+id, blob, s.ttl)
	pipe.LPush(ctx, stepsPrefix+id, resultBlob)
	pipe.LTrim(ctx, stepsPrefix+id, 0, StepHistoryLimit-1)
	pipe.Expire(ctx, stepsPrefix+id, s.ttl)
	s.denormalizeMeta(ctx, pipe, id, state)
	pipe.Expire(ctx, metaPrefix+id, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving step result: %w", err)
	}
	return nil
}

// CreateMetadata initializes a fresh metadata hash.
func (s *RedisStore) CreateMetadata(ctx context.Context, id string, meta *models.SessionMetadata) error {
	now := time.Now()
	fields := map[string]any{
		"session_id":     id,
		"user_id":        meta.UserID,
		"created_at":     now.Format(time.RFC3339Nano),
		"last_active_at": now.Format(time.RFC3339Nano),
		"status":         string(models.StatusIdle),
		"total_cost":     "0",
		"total_steps":    "0",
	}
	if meta.ModelConfig != nil {
		mc, err := json.Marshal(meta.ModelConfig)
		if err != nil {
			return fmt.Errorf("marshaling model config: %w", err)
		}
		fields["model_config"] = string(mc)
	}
	if meta.AgentConfig != nil {
		ac, err := json.Marshal(meta.AgentConfig)
		if err != nil {
			return fmt.Errorf("marshaling agent config: %w", err)
		}
		fields["agent_config"] = string(ac)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, metaPrefix+id, fields)
	pipe.Expire(ctx, metaPrefix+id, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating session metadata: %w", err)
	}
	return nil
}

// GetMetadata reads and decodes the metadata hash.
func (s *RedisStore) GetMetadata(ctx context.Context, id string) (*models.SessionMetadata, error) {
	fields, err := s.rdb.HGetAll(ctx, metaPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("loading session metadata: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeMeta(id, fields)
}

// ListActive scans metadata records and returns the non-terminal sessions.
func (s *RedisStore) ListActive(ctx context.Context) ([]*models.SessionMetadata, error) {
	var out []*models.SessionMetadata
	iter := s.rdb.Scan(ctx, 0, metaPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		meta, err := decodeMeta(key[len(metaPrefix):], fields)
		if err != nil {
			slog.Warn("Skipping undecodable session metadata", "key", key, "error", err)
			continue
		}
		if !meta.Status.IsTerminal() {
			out = append(out, meta)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning session metadata: %w", err)
	}
	return out, nil
}

// GetHistory returns up to limit step results, newest first.
func (s *RedisStore) GetHistory(ctx context.Context, id string, limit int) ([]*models.StepResult, error) {
	if limit <= 0 || limit > StepHistoryLimit {
		limit = StepHistoryLimit
	}
	raw, err := s.rdb.LRange(ctx, stepsPrefix+id, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading step history: %w", err)
	}
	results := make([]*models.StepResult, 0, len(raw))
	for _, entry := range raw {
		var sr models.StepResult
		if err := json.Unmarshal([]byte(entry), &sr); err != nil {
			slog.Warn("Skipping undecodable step result", "session_id", id, "error", err)
			continue
		}
		results = append(results, &sr)
	}
	return results, nil
}

// DeleteSession removes all three keyspaces.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, statePrefix+id, stepsPrefix+id, metaPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session keys: %w", err)
	}
	return nil
}

// CleanupExpired deletes sessions whose last_active_at is older than the TTL.
// Redis expires the keys on its own; this is a safety net for records whose
// TTL was lost (e.g. restored backups).
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	iter := s.rdb.Scan(ctx, 0, metaPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		lastActive, err := s.rdb.HGet(ctx, key, "last_active_at").Result()
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, lastActive)
		if err != nil || ts.After(cutoff) {
			continue
		}
		id := key[len(metaPrefix):]
		if err := s.DeleteSession(ctx, id); err != nil {
			slog.Warn("Failed to delete expired session", "session_id", id, "error", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning for expired sessions: %w", err)
	}
	return removed, nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// denormalizeMeta queues metadata field updates onto a pipeline.
func (s *RedisStore) denormalizeMeta(ctx context.Context, pipe redis.Pipeliner, id string, state *models.Session) {
	pipe.HSet(ctx, metaPrefix+id, map[string]any{
		"status":         string(state.Status),
		"total_cost":     strconv.FormatFloat(state.Cost.Total, 'f', -1, 64),
		"total_steps":    strconv.Itoa(state.StepCount),
		"last_active_at": time.Now().Format(time.RFC3339Nano),
	})
}

// decodeMeta converts a metadata hash into a SessionMetadata.
func decodeMeta(id string, fields map[string]string) (*models.SessionMetadata, error) {
	meta := &models.SessionMetadata{
		SessionID: id,
		UserID:    fields["user_id"],
		Status:    models.Status(fields["status"]),
	}
	if v := fields["created_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		meta.CreatedAt = ts
	}
	if v := fields["last_active_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parsing last_active_at: %w", err)
		}
		meta.LastActiveAt = ts
	}
	if v := fields["total_cost"]; v != "" {
		cost, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing total_cost: %w", err)
		}
		meta.TotalCost = cost
	}
	if v := fields["total_steps"]; v != "" {
		steps, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing total_steps: %w", err)
		}
		meta.TotalSteps = steps
	}
	if v := fields["model_config"]; v != "" {
		var mc models.ModelConfig
		if err := json.Unmarshal([]byte(v), &mc); err != nil {
			return nil, fmt.Errorf("parsing model_config: %w", err)
		}
		meta.ModelConfig = &mc
	}
	if v := fields["agent_config"]; v != "" {
		var ac models.AgentConfig
		if err := json.Unmarshal([]byte(v), &ac); err != nil {
			return nil, fmt.Errorf("parsing agent_config: %w", err)
		}
		meta.AgentConfig = &ac
	}
	return meta, nil
}
