// Package reconcile merges independently-arriving trip events into one
// consistent record per trip and detects the moment a trip completes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/store"
)

// ErrRetryExhausted is a retryable processing failure: the caller should
// redeliver the event, relying on at-least-once ingress semantics.
var ErrRetryExhausted = errors.New("apply retries exhausted")

// Config defines retry tunables for conditional-put conflicts and transient
// store failures.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Result reports what applying one event did to the authoritative record.
type Result struct {
	Record  domain.TripRecord
	Outcome domain.MergeOutcome
	// Transitioned is true iff this application moved the record into
	// COMPLETED. It is computed from the state transition, not from event
	// arrival, so duplicates can never re-report it.
	Transitioned bool
}

// Processor applies validated events to the state store. Safe for concurrent
// use across trips; concurrent applications for the same trip serialize
// through the store's conditional-put mechanism.
type Processor struct {
	store  domain.StateStore
	logger *zap.Logger
	cfg    Config
	tracer trace.Tracer
}

// New constructs a Processor.
func New(st domain.StateStore, logger *zap.Logger, cfg Config) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 20 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:  st,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("fareflow.reconcile"),
	}
}

// Apply merges ev into the stored record via read-merge-conditional-write.
// On a version conflict it re-reads and retries up to the configured bound;
// each accepted put is atomic per record, so no partial write is ever
// visible.
func (p *Processor) Apply(ctx context.Context, ev domain.TripEvent) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "reconcile.apply",
		trace.WithAttributes(
			attribute.String("trip.id", ev.TripID),
			attribute.String("trip.event_kind", string(ev.Kind)),
		))
	defer span.End()

	for attempt := 1; ; attempt++ {
		result, err := p.applyOnce(ctx, ev)
		if err == nil {
			eventsApplied.WithLabelValues(string(ev.Kind), result.Outcome.String()).Inc()
			if result.Transitioned {
				completionsTotal.Inc()
			}
			return result, nil
		}

		retryable := errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrUnavailable)
		if !retryable {
			return Result{}, err
		}
		if errors.Is(err, store.ErrVersionMismatch) {
			versionConflicts.Inc()
		}
		if attempt >= p.cfg.MaxAttempts {
			retryExhausted.Inc()
			p.logger.Warn("apply abandoned",
				zap.String("trip_id", ev.TripID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return Result{}, fmt.Errorf("apply %s after %d attempts: %w", ev.TripID, attempt, ErrRetryExhausted)
		}

		backoff := time.Duration(attempt*attempt) * p.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (p *Processor) applyOnce(ctx context.Context, ev domain.TripEvent) (Result, error) {
	rec, err := p.store.Get(ctx, ev.TripID)
	expected := rec.Version
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First event for this trip, whichever kind it is.
		rec = domain.TripRecord{TripID: ev.TripID, Status: domain.StatusStarted}
		expected = 0
	case err != nil:
		return Result{}, err
	}

	prior := rec.Status
	merged, outcome := domain.Merge(rec, ev)
	if outcome != domain.MergeApplied {
		if outcome == domain.MergeConflict {
			p.logger.Warn("conflicting redelivery ignored",
				zap.String("trip_id", ev.TripID),
				zap.String("kind", string(ev.Kind)))
		}
		return Result{Record: rec, Outcome: outcome}, nil
	}

	saved, err := p.store.Put(ctx, merged, expected)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Record:       saved,
		Outcome:      outcome,
		Transitioned: prior != domain.StatusCompleted && saved.Status == domain.StatusCompleted,
	}, nil
}
