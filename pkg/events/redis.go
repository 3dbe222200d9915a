package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/stride/pkg/models"
)

const eventsPrefix = "events:"

// subscribeBlock bounds a single blocking XREAD so cancellation is observed
// promptly even when no events arrive.
const subscribeBlock = 5 * time.Second

// RedisStream implements EventStream on Redis Streams.
type RedisStream struct {
	rdb    *redis.Client
	maxLen int64
	ttl    time.Duration
}

// NewRedisStream creates an EventStream backed by the given Redis client.
// maxLen is the approximate per-session log bound; ttl is refreshed on every
// publish.
func NewRedisStream(rdb *redis.Client, maxLen int64, ttl time.Duration) *RedisStream {
	return &RedisStream{rdb: rdb, maxLen: maxLen, ttl: ttl}
}

// Publish appends the event with MAXLEN ~ eviction and refreshes the TTL.
func (s *RedisStream) Publish(ctx context.Context, sessionID string, event *models.Event) (string, error) {
	key := eventsPrefix + sessionID
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	values := map[string]any{
		"type":       string(event.Type),
		"step_index": strconv.Itoa(event.StepIndex),
		"session_id": sessionID,
		"timestamp":  strconv.FormatInt(event.Timestamp, 10),
	}
	if len(event.Data) > 0 {
		values["data"] = string(event.Data)
	}

	pipe := s.rdb.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("publishing event: %w", err)
	}
	id, err := add.Result()
	if err != nil {
		return "", fmt.Errorf("publishing event: %w", err)
	}
	event.ID = id
	return id, nil
}

// History returns up to count events, newest first.
func (s *RedisStream) History(ctx context.Context, sessionID string, count int) ([]models.Event, error) {
	if count <= 0 {
		count = DefaultHistoryCount
	}
	msgs, err := s.rdb.XRevRangeN(ctx, eventsPrefix+sessionID, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading event history: %w", err)
	}
	out := make([]models.Event, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeStreamMessage(sessionID, msg))
	}
	return out, nil
}

// Subscribe blocks on XREAD after fromID, delivering batches to handler until
// ctx is cancelled. Cancellation returns nil.
func (s *RedisStream) Subscribe(ctx context.Context, sessionID, fromID string, handler Handler) error {
	key := eventsPrefix + sessionID
	if fromID == "" {
		fromID = "0"
	}
	last := fromID
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := s.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, last},
			Count:   100,
			Block:   subscribeBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		for _, stream := range streams {
			if len(stream.Messages) == 0 {
				continue
			}
			batch := make([]models.Event, 0, len(stream.Messages))
			for _, msg := range stream.Messages {
				batch = append(batch, decodeStreamMessage(sessionID, msg))
				last = msg.ID
			}
			if err := handler(batch); err != nil {
				return fmt.Errorf("event handler: %w", err)
			}
		}
	}
}

// Cleanup deletes the session's log.
func (s *RedisStream) Cleanup(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, eventsPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("deleting event log: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisStream) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// decodeStreamMessage converts a Redis stream entry back into an Event.
// Malformed fields degrade to zero values rather than failing the read.
func decodeStreamMessage(sessionID string, msg redis.XMessage) models.Event {
	evt := models.Event{
		ID:        msg.ID,
		SessionID: sessionID,
	}
	if v, ok := msg.Values["type"].(string); ok {
		evt.Type = models.EventType(v)
	}
	if v, ok := msg.Values["step_index"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			evt.StepIndex = n
		}
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			evt.Timestamp = ts
		}
	}
	if v, ok := msg.Values["data"].(string); ok && v != "" {
		evt.Data = json.RawMessage(v)
	}
	return evt
}
