package rollup_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/fareflow/internal/rollup"
	"github.com/example/fareflow/internal/trip/domain"
)

func newPostgresSink(t *testing.T, ctx context.Context) *rollup.PostgresSink {
	t.Helper()
	pg, err := postgrescontainer.Run(ctx, "postgres:16",
		postgrescontainer.WithDatabase("fareflow"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections")))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })

	sink := rollup.NewPostgresSink(db)
	require.NoError(t, sink.EnsureSchema(ctx))
	return sink
}

func TestPostgresSinkUpsertByDate(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	sink := newPostgresSink(t, ctx)

	first := domain.DailyRollup{Date: "2024-01-01", TotalFare: 120, CountTrips: 3, AverageFare: 40, MaxFare: 60, MinFare: 20}
	require.NoError(t, sink.Upsert(ctx, first))

	got, ok, err := sink.Get(ctx, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	second := first
	second.TotalFare = 155.5
	second.CountTrips = 5
	second.AverageFare = 31.1
	require.NoError(t, sink.Upsert(ctx, second))

	got, ok, err = sink.Get(ctx, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, got)

	_, ok, err = sink.Get(ctx, "2023-12-31")
	require.NoError(t, err)
	require.False(t, ok)
}
