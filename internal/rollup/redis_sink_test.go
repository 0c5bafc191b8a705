package rollup_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/rollup"
	"github.com/example/fareflow/internal/trip/domain"
)

func newRedisSink(t *testing.T) *rollup.RedisSink {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return rollup.NewRedisSink(client, "")
}

func TestRedisSinkUpsertByDate(t *testing.T) {
	sink := newRedisSink(t)
	ctx := context.Background()

	first := domain.DailyRollup{Date: "2024-01-01", TotalFare: 120, CountTrips: 3, AverageFare: 40, MaxFare: 60, MinFare: 20}
	require.NoError(t, sink.Upsert(ctx, first))

	got, ok, err := sink.Get(ctx, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	// re-upsert for the same date replaces the row
	second := first
	second.TotalFare = 140
	second.CountTrips = 4
	second.AverageFare = 35
	require.NoError(t, sink.Upsert(ctx, second))

	got, ok, err = sink.Get(ctx, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, got)

	_, ok, err = sink.Get(ctx, "2024-01-02")
	require.NoError(t, err)
	require.False(t, ok)
}
