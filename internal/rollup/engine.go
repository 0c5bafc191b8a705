// Package rollup computes daily fare KPIs over completed trips and upserts
// them into a sink keyed by completion date.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/store"
)

// ErrInputUnavailable wraps storage scan failures during aggregation. The
// trigger retries these; they never corrupt previously-written rollups.
var ErrInputUnavailable = errors.New("aggregation input unavailable")

// Engine recomputes one date's rollup from authoritative store state. It is
// a pure function of (date, store contents): it holds no locks, accumulates
// nothing across calls, and is safe to invoke redundantly or concurrently
// with ongoing reconciliation.
type Engine struct {
	store  domain.StateStore
	sink   domain.RollupSink
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine constructs an Engine.
func NewEngine(st domain.StateStore, sink domain.RollupSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  st,
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer("fareflow.rollup"),
	}
}

// Compute scans completed trips for date and folds them into a DailyRollup.
// A date with no completed trips yields the explicit zero rollup: all fare
// figures 0 and count 0, never a division by zero. Records are folded in
// trip-id order so recomputation over unchanged state is bit-identical.
func (e *Engine) Compute(ctx context.Context, date string) (domain.DailyRollup, error) {
	records, err := e.store.ListCompletedOn(ctx, date)
	if err != nil {
		return domain.DailyRollup{}, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}

	rollup := domain.DailyRollup{Date: date}
	if len(records) == 0 {
		return rollup, nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].TripID < records[j].TripID })

	for i, rec := range records {
		if rec.FareAmount == nil {
			// COMPLETED implies an applied END event, which carries the fare.
			return domain.DailyRollup{}, fmt.Errorf("completed trip %s has no fare", rec.TripID)
		}
		fare := *rec.FareAmount
		rollup.TotalFare += fare
		rollup.CountTrips++
		if i == 0 || fare > rollup.MaxFare {
			rollup.MaxFare = fare
		}
		if i == 0 || fare < rollup.MinFare {
			rollup.MinFare = fare
		}
	}
	rollup.AverageFare = rollup.TotalFare / float64(rollup.CountTrips)
	return rollup, nil
}

// RunForDate computes date's rollup and upserts it into the sink. Concurrent
// runs for the same date are safe: output is deterministic from state, so
// last-write-wins upserts converge.
func (e *Engine) RunForDate(ctx context.Context, date string) (domain.DailyRollup, error) {
	ctx, span := e.tracer.Start(ctx, "rollup.run",
		trace.WithAttributes(attribute.String("rollup.date", date)))
	defer span.End()

	started := time.Now()
	rollup, err := e.Compute(ctx, date)
	if err != nil {
		rollupRuns.WithLabelValues("compute_error").Inc()
		return domain.DailyRollup{}, err
	}
	if err := e.sink.Upsert(ctx, rollup); err != nil {
		rollupRuns.WithLabelValues("sink_error").Inc()
		return domain.DailyRollup{}, fmt.Errorf("upsert rollup %s: %w", date, err)
	}
	rollupRuns.WithLabelValues("ok").Inc()
	rollupDuration.Observe(time.Since(started).Seconds())
	e.logger.Info("rollup written",
		zap.String("date", date),
		zap.Int64("count_trips", rollup.CountTrips),
		zap.Float64("total_fare", rollup.TotalFare))
	return rollup, nil
}

// Retryable reports whether err should be retried by the trigger.
func Retryable(err error) bool {
	return errors.Is(err, ErrInputUnavailable) || errors.Is(err, store.ErrUnavailable)
}
