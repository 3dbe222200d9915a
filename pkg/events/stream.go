// Package events provides the per-session append-only event log: bounded,
// replayable, and subscribable with resume-from-id.
//
// Producers publish to the log and never push directly to subscribers.
// Subscribers are independent readers that resume from an event id, which
// gives late joiners replay and decouples producers from consumers.
package events

import (
	"context"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// DefaultHistoryCount is the history slice size when the caller passes 0.
const DefaultHistoryCount = 100

// Handler receives event batches from a subscription, in id order.
type Handler func(events []models.Event) error

// EventStream is the append-only event log contract (C2).
//
// Ordering: within one session, published events are totally ordered and ids
// are monotonic; subscribers observe events strictly in id order. No ordering
// is implied across sessions.
type EventStream interface {
	// Publish canonicalizes and appends the event, evicting the oldest
	// entries past the configured maximum length and refreshing the log
	// TTL. Returns the assigned monotonic id.
	Publish(ctx context.Context, sessionID string, event *models.Event) (string, error)

	// History returns up to count events in reverse-chronological order.
	History(ctx context.Context, sessionID string, count int) ([]models.Event, error)

	// Subscribe blocks reading the log starting strictly after fromID,
	// invoking handler with each batch in order until ctx is cancelled.
	// Cancellation returns nil; a handler error aborts the subscription
	// and is returned.
	Subscribe(ctx context.Context, sessionID, fromID string, handler Handler) error

	// Cleanup deletes the session's log.
	Cleanup(ctx context.Context, sessionID string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
}
