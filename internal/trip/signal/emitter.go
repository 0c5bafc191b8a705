// Package signal emits the one-shot downstream notification for trips that
// reached COMPLETED. Delivery is at-least-once; consumers recompute from
// authoritative state, so duplicate signals are harmless.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/domain"
)

var (
	signalsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_completion_signals_total",
		Help: "Completion signals successfully published downstream.",
	})
	signalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_completion_signal_failures_total",
		Help: "Completion signal publishes abandoned after exhausting retries.",
	})
)

// EmitterConfig bounds publish retries on transient downstream failures.
type EmitterConfig struct {
	RetryMax int
	Backoff  time.Duration
}

// Emitter publishes completion signals with bounded retry. The exactly-once
// property lives upstream: callers invoke Emit only when the reconciliation
// processor reports an authoritative transition into COMPLETED.
type Emitter struct {
	publisher domain.CompletionPublisher
	logger    *zap.Logger
	cfg       EmitterConfig
}

// NewEmitter constructs an Emitter.
func NewEmitter(publisher domain.CompletionPublisher, logger *zap.Logger, cfg EmitterConfig) *Emitter {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{publisher: publisher, logger: logger, cfg: cfg}
}

// Emit publishes a completion signal for rec, which must be COMPLETED.
func (e *Emitter) Emit(ctx context.Context, rec domain.TripRecord) error {
	if rec.Status != domain.StatusCompleted || rec.DropoffTime == nil {
		return fmt.Errorf("emit completion for %s: record is not completed", rec.TripID)
	}
	sig := domain.CompletionSignal{
		SignalID:    uuid.NewString(),
		TripID:      rec.TripID,
		CompletedAt: *rec.DropoffTime,
	}

	var attempt int
	for {
		attempt++
		err := e.publisher.Publish(ctx, sig)
		if err == nil {
			signalsEmitted.Inc()
			e.logger.Info("trip completed",
				zap.String("trip_id", sig.TripID),
				zap.Time("completed_at", sig.CompletedAt))
			return nil
		}
		e.logger.Warn("completion publish failed",
			zap.String("trip_id", sig.TripID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt >= e.cfg.RetryMax {
			signalFailures.Inc()
			return fmt.Errorf("publish completion for %s: %w", sig.TripID, err)
		}
		backoff := time.Duration(attempt*attempt) * e.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
