// Package worker runs the background expiry sweeper.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gatherhub/backend/internal/voting"
)

// Sweeper periodically ends polls whose closes_at elapsed while nobody was
// reading them. Lazy expiry already handles every read path; the sweeper only
// exists so subscribers of an idle poll still receive poll_ended promptly.
// Ending goes through the lifecycle manager's compare-and-swap, so a sweep
// racing a lazy read observation still emits the event exactly once.
type Sweeper struct {
	store     voting.Store
	lifecycle *voting.Lifecycle
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(store voting.Store, lifecycle *voting.Lifecycle, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, lifecycle: lifecycle, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
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

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.store.ListExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("list expired polls", zap.Error(err))
		return
	}
	for _, poll := range expired {
		// ResolvePoll applies the CAS transition and broadcasts poll_ended
		// for whichever caller wins it.
		if _, err := s.lifecycle.ResolvePoll(ctx, poll.ID); err != nil {
			s.logger.Error("end expired poll", zap.String("poll_id", poll.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("expired poll swept", zap.String("poll_id", poll.ID.String()))
	}
}
