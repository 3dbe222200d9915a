// Package cleanup provides the expired-session retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/stride/pkg/store"
)

// Service periodically removes sessions whose state has outlived the
// configured TTL. Expiry is driven by the store's last-active timestamps,
// so the scan is idempotent and safe to run from multiple replicas.
type Service struct {
	store    store.SessionStore
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service that scans every interval.
func NewService(st store.SessionStore, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started", "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.store.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("Retention: expired-session sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: removed expired sessions", "count", count)
	}
}
