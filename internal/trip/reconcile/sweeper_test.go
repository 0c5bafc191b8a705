package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/reconcile"
	"github.com/example/fareflow/internal/trip/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestSweepRemovesOnlyStaleIncompleteTrips(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemory().WithClock(fixedClock{t: base})
	ctx := context.Background()

	p := reconcile.New(st, nil, reconcile.Config{})
	_, err := p.Apply(ctx, startEvent("stale-start"))
	require.NoError(t, err)
	_, err = p.Apply(ctx, endEvent("stale-end", 9.0))
	require.NoError(t, err)
	_, err = p.Apply(ctx, startEvent("done"))
	require.NoError(t, err)
	_, err = p.Apply(ctx, endEvent("done", 20.0))
	require.NoError(t, err)

	sweeper := reconcile.NewSweeper(st, nil, reconcile.SweeperConfig{TTL: time.Hour}).
		WithClock(fixedClock{t: base.Add(2 * time.Hour)})

	swept, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, swept)

	_, err = st.Get(ctx, "stale-start")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, "stale-end")
	require.ErrorIs(t, err, store.ErrNotFound)

	rec, err := st.Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rec.Status)
}

func TestSweepNoopWithinTTL(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemory().WithClock(fixedClock{t: base})
	ctx := context.Background()

	p := reconcile.New(st, nil, reconcile.Config{})
	_, err := p.Apply(ctx, startEvent("fresh"))
	require.NoError(t, err)

	sweeper := reconcile.NewSweeper(st, nil, reconcile.SweeperConfig{TTL: time.Hour}).
		WithClock(fixedClock{t: base.Add(30 * time.Minute)})

	swept, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestSweeperDisabledWithoutTTL(t *testing.T) {
	sweeper := reconcile.NewSweeper(store.NewMemory(), nil, reconcile.SweeperConfig{})
	require.NoError(t, sweeper.Run(context.Background()))
}
