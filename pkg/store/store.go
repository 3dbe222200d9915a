// Package store provides durable per-session state, step history, and
// session metadata with TTL-based expiry.
//
// Three logical keyspaces exist per session:
//
//	state:{id}  serialized Session, single blob
//	steps:{id}  bounded list of StepResults, newest first, capped at 200
//	meta:{id}   field-addressable metadata record
//
// Every write refreshes the TTL on all three keys. Per-session writes are
// serialized by the queue guarantee that at most one step per session is in
// flight at a time; the store itself holds no cross-session transactions.
package store

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the session state or metadata key is missing
	// or expired.
	ErrNotFound = errors.New("session not found")
)

// StepHistoryLimit caps the steps:{id} list.
const StepHistoryLimit = 200

// SessionStore is the durable state contract (C1).
type SessionStore interface {
	// SaveState writes the state blob, refreshes TTLs on all three keys,
	// and denormalizes status/cost/steps/last_active_at into metadata.
	// The write replaces the previous blob; it never merges.
	SaveState(ctx context.Context, id string, state *models.Session) error

	// LoadState reads the state blob. Returns ErrNotFound when the key is
	// missing or expired.
	LoadState(ctx context.Context, id string) (*models.Session, error)

	// SaveStepResult commits a step in one pipelined batch: overwrite
	// state, prepend the result to the step history (trimmed to
	// StepHistoryLimit), refresh TTLs, and update denormalized metadata.
	// Replaying an already-persisted step index is a no-op.
	SaveStepResult(ctx context.Context, id string, state *models.Session, result *models.StepResult) error

	// CreateMetadata initializes a fresh metadata record with zeroed
	// counters and the TTL set.
	CreateMetadata(ctx context.Context, id string, meta *models.SessionMetadata) error

	// GetMetadata reads the metadata record. Returns ErrNotFound when
	// missing or expired.
	GetMetadata(ctx context.Context, id string) (*models.SessionMetadata, error)

	// ListActive returns metadata for sessions whose denormalized status is
	// not terminal.
	ListActive(ctx context.Context) ([]*models.SessionMetadata, error)

	// GetHistory returns up to limit step results, newest first.
	GetHistory(ctx context.Context, id string, limit int) ([]*models.StepResult, error)

	// DeleteSession removes all three keyspaces for the session.
	DeleteSession(ctx context.Context, id string) error

	// CleanupExpired scans metadata for sessions whose last_active_at is
	// older than the TTL and deletes them. Returns the number removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
