// Package cleanup reclaims sandboxes left behind by idle sessions.
//
// Sandboxes self-terminate after their inactivity timeout, but the session
// row keeps pointing at the dead container and a crashed worker can leak a
// live one. The reaper periodically releases the sandbox of any
// non-running session whose last message is older than the TTL, so the
// next chat provisions a fresh environment.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

// Service is the background sandbox reaper.
type Service struct {
	store    storage.Store
	manager  sandbox.Manager
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a reaper releasing sandboxes idle longer than ttl,
// scanning every interval.
func NewService(store storage.Store, manager sandbox.Manager, ttl, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		manager:  manager,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background reap loop. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Sandbox reaper started", "ttl", s.ttl, "interval", s.interval)
}

// Stop signals the reap loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Sandbox reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.ReapOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapOnce(ctx)
		}
	}
}

// ReapOnce releases every expired sandbox and returns the number released.
// Sessions actively running a task are never touched.
func (s *Service) ReapOnce(ctx context.Context) int {
	sessions, err := s.store.Sessions().List(ctx)
	if err != nil {
		s.logger.Error("Reaper: session scan failed", "error", err)
		return 0
	}

	// LatestMessageAt is recorded in unix seconds.
	cutoff := time.Now().Add(-s.ttl).Unix()
	released := 0
	for _, sess := range sessions {
		if sess.SandboxID == "" || sess.Status == models.SessionRunning {
			continue
		}
		if sess.LatestMessageAt >= cutoff {
			continue
		}
		if err := s.release(ctx, sess); err != nil {
			s.logger.Error("Reaper: release failed",
				"session_id", sess.ID, "sandbox_id", sess.SandboxID, "error", err)
			continue
		}
		released++
	}
	if released > 0 {
		s.logger.Info("Reaper: released idle sandboxes", "count", released)
	}
	return released
}

func (s *Service) release(ctx context.Context, sess *models.Session) error {
	if err := s.manager.Destroy(ctx, sess.SandboxID); err != nil {
		return err
	}
	sess.SandboxID = ""
	return s.store.Sessions().Update(ctx, sess)
}
