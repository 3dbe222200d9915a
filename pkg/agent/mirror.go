package agent

import (
	"context"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// MessageMirror copies conversation messages to an external message store.
// Mirroring is best-effort: executors log mirror failures and keep going,
// the session state remains the source of truth.
type MessageMirror interface {
	Mirror(ctx context.Context, sessionID string, stepIndex int, msg models.Message) error
}

// NopMirror discards every message.
type NopMirror struct{}

// Mirror implements MessageMirror.
func (NopMirror) Mirror(context.Context, string, int, models.Message) error { return nil }
