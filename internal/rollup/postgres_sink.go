package rollup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/fareflow/internal/trip/domain"
)

// PostgresSink upserts rollups into a relational table keyed by trip_date.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink constructs the sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the rollup table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS daily_rollups (
trip_date DATE PRIMARY KEY,
total_fare DOUBLE PRECISION NOT NULL,
count_trips BIGINT NOT NULL,
average_fare DOUBLE PRECISION NOT NULL,
max_fare DOUBLE PRECISION NOT NULL,
min_fare DOUBLE PRECISION NOT NULL,
updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create rollup table: %w", err)
	}
	return nil
}

// Upsert satisfies domain.RollupSink with an ON CONFLICT update.
func (s *PostgresSink) Upsert(ctx context.Context, rollup domain.DailyRollup) error {
	query := `INSERT INTO daily_rollups (trip_date, total_fare, count_trips, average_fare, max_fare, min_fare, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (trip_date) DO UPDATE SET
total_fare = EXCLUDED.total_fare,
count_trips = EXCLUDED.count_trips,
average_fare = EXCLUDED.average_fare,
max_fare = EXCLUDED.max_fare,
min_fare = EXCLUDED.min_fare,
updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query,
		rollup.Date, rollup.TotalFare, rollup.CountTrips,
		rollup.AverageFare, rollup.MaxFare, rollup.MinFare); err != nil {
		return fmt.Errorf("upsert rollup %s: %w", rollup.Date, err)
	}
	return nil
}

// Get loads the rollup row for date, if present.
func (s *PostgresSink) Get(ctx context.Context, date string) (domain.DailyRollup, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT to_char(trip_date, 'YYYY-MM-DD'), total_fare, count_trips, average_fare, max_fare, min_fare
FROM daily_rollups WHERE trip_date = $1`, date)
	var rollup domain.DailyRollup
	err := row.Scan(&rollup.Date, &rollup.TotalFare, &rollup.CountTrips,
		&rollup.AverageFare, &rollup.MaxFare, &rollup.MinFare)
	if err == sql.ErrNoRows {
		return domain.DailyRollup{}, false, nil
	}
	if err != nil {
		return domain.DailyRollup{}, false, fmt.Errorf("load rollup %s: %w", date, err)
	}
	return rollup, true, nil
}
