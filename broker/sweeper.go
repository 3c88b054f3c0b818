package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically force-ends active sessions whose deadline passed
// and, when a pending timeout is configured, rejects requests that sat
// unanswered too long. It is a safety net: expired sessions are also
// rejected at read time, the sweeper just makes the terminal state
// durable and observable.
type Sweeper struct {
	manager  *Manager
	interval time.Duration

	// pendingTimeout of zero disables pending expiry.
	pendingTimeout time.Duration
}

func NewSweeper(manager *Manager, interval, pendingTimeout time.Duration) *Sweeper {
	return &Sweeper{
		manager:        manager,
		interval:       interval,
		pendingTimeout: pendingTimeout,
	}
}

// Run sweeps on every tick until ctx is cancelled. Errors are logged, not
// fatal; the next tick retries.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.interval).
		Dur("pending_timeout", s.pendingTimeout).
		Msg("Expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Sweep runs one pass. Each session is expired independently; a lost race
// against a concurrent user-initiated transition is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) error {
	SweepsTotal.Inc()
	now := s.manager.now().UTC()

	expired, err := s.manager.store.ListExpiredActiveSessions(ctx, now)
	if err != nil {
		return err
	}
	for i := range expired {
		if err := s.manager.expireActive(ctx, &expired[i]); err != nil {
			log.Error().Err(err).
				Str("session_id", expired[i].ID.String()).
				Msg("Failed to expire active session")
		}
	}

	if s.pendingTimeout > 0 {
		cutoff := now.Add(-s.pendingTimeout)
		overdue, err := s.manager.store.ListOverduePendingSessions(ctx, cutoff)
		if err != nil {
			return err
		}
		for i := range overdue {
			if err := s.manager.expirePending(ctx, &overdue[i]); err != nil {
				log.Error().Err(err).
					Str("session_id", overdue[i].ID.String()).
					Msg("Failed to time out pending session")
			}
		}
	}

	return nil
}
