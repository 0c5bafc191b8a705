package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/domain"
)

// SweeperConfig controls the staleness policy for trips that never receive
// both lifecycle events. TTL <= 0 disables sweeping entirely.
type SweeperConfig struct {
	TTL      time.Duration
	Interval time.Duration
}

// Sweeper removes records that have stayed incomplete longer than the
// configured TTL. Completed records are never touched; retention of completed
// trips remains an external concern.
type Sweeper struct {
	store  domain.StateStore
	logger *zap.Logger
	clock  domain.Clock
	cfg    SweeperConfig
}

// NewSweeper constructs a Sweeper.
func NewSweeper(st domain.StateStore, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: st, logger: logger, clock: domain.SystemClock{}, cfg: cfg}
}

// WithClock overrides the clock, for tests.
func (s *Sweeper) WithClock(clock domain.Clock) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
// Returns immediately when sweeping is disabled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cfg.TTL <= 0 {
		s.logger.Info("staleness sweep disabled")
		return nil
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("swept stale trips", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce deletes every record that has been incomplete for longer than the
// TTL and returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.TTL)
	ids, err := s.store.ListIncompleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			return swept, err
		}
		staleSwept.Inc()
		swept++
	}
	return swept, nil
}
