package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/store"
)

func newRedisStore(t *testing.T) *store.Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return store.NewRedis(client, "")
}

func TestRedisConditionalPut(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "T1")
	require.ErrorIs(t, err, store.ErrNotFound)

	rec := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	saved, err := s.Put(ctx, rec, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Version)

	_, err = s.Put(ctx, rec, 0)
	require.ErrorIs(t, err, store.ErrVersionMismatch)

	_, err = s.Put(ctx, saved, 7)
	require.ErrorIs(t, err, store.ErrVersionMismatch)

	saved, err = s.Put(ctx, saved, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), saved.Version)

	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, saved.Version, got.Version)
	require.Equal(t, domain.StatusStarted, got.Status)
}

func TestRedisCompletionIndex(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	day := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.Put(ctx, completedRecord("T1", 20, day), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, completedRecord("T2", 40, day.Add(2*time.Hour)), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, completedRecord("T3", 60, day.AddDate(0, 0, 1)), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, domain.TripRecord{TripID: "T4", Status: domain.StatusEndOnly}, 0)
	require.NoError(t, err)

	recs, err := s.ListCompletedOn(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		require.Equal(t, domain.StatusCompleted, rec.Status)
		require.Equal(t, "2024-01-01", rec.CompletionDate())
	}

	recs, err = s.ListCompletedOn(ctx, "2024-02-01")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestRedisIncompleteIndexFollowsLifecycle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newRedisStore(t).WithClock(fixedClock{t: base})
	ctx := context.Background()

	saved, err := s.Put(ctx, domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}, 0)
	require.NoError(t, err)

	ids, err := s.ListIncompleteBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, ids)

	// completing the trip removes it from the incomplete index
	dropoff := base.Add(20 * time.Minute)
	completed := completedRecord("T1", 12.5, dropoff)
	completed.Version = saved.Version
	_, err = s.Put(ctx, completed, saved.Version)
	require.NoError(t, err)

	ids, err = s.ListIncompleteBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, ids)

	recs, err := s.ListCompletedOn(ctx, domain.DayOf(dropoff))
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestRedisDeleteRemovesIndexes(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newRedisStore(t).WithClock(fixedClock{t: base})
	ctx := context.Background()

	_, err := s.Put(ctx, domain.TripRecord{TripID: "stale", Status: domain.StatusEndOnly}, 0)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "stale"))
	_, err = s.Get(ctx, "stale")
	require.ErrorIs(t, err, store.ErrNotFound)

	ids, err := s.ListIncompleteBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, ids)

	// deleting a missing record is a no-op
	require.NoError(t, s.Delete(ctx, "stale"))
}
