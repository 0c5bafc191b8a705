package domain

import (
	"context"
	"time"
)

// EventKind discriminates the two halves of a trip lifecycle.
type EventKind string

const (
	KindStart EventKind = "trip_start"
	KindEnd   EventKind = "trip_end"
)

// TripStatus tracks how much of a trip has been observed. END_ONLY is the
// intermediate state for trips whose end arrived before their start; it is
// equivalent to STARTED for completion purposes but carries no trip metadata.
type TripStatus string

const (
	StatusStarted   TripStatus = "STARTED"
	StatusEndOnly   TripStatus = "END_ONLY"
	StatusCompleted TripStatus = "COMPLETED"
)

// TripEvent is one validated lifecycle event. Events are transient: they are
// merged into a TripRecord and never persisted as-is.
type TripEvent struct {
	TripID    string
	Kind      EventKind
	Timestamp time.Time

	// start-only fields
	PickupLocationID  string
	DropoffLocationID string
	VendorID          string
	EstimatedDropoff  *time.Time
	EstimatedFare     *float64

	// end-only fields
	FareAmount   *float64
	TripDistance *float64
}

// TripRecord is the persisted state for one trip_id, the single unit of
// consistency. Pointer fields stay nil until the originating event arrives.
type TripRecord struct {
	TripID string     `json:"trip_id"`
	Status TripStatus `json:"status"`

	PickupTime        *time.Time `json:"pickup_time,omitempty"`
	DropoffTime       *time.Time `json:"dropoff_time,omitempty"`
	FareAmount        *float64   `json:"fare_amount,omitempty"`
	TripDistance      *float64   `json:"trip_distance,omitempty"`
	VendorID          string     `json:"vendor_id,omitempty"`
	PickupLocationID  string     `json:"pickup_location_id,omitempty"`
	DropoffLocationID string     `json:"dropoff_location_id,omitempty"`
	EstimatedDropoff  *time.Time `json:"estimated_dropoff,omitempty"`
	EstimatedFare     *float64   `json:"estimated_fare,omitempty"`

	// Version is bumped by the store on every accepted conditional put.
	Version int64 `json:"version"`
	// UpdatedAt is maintained by the store and drives the staleness sweep.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStart reports whether start-derived fields have been applied.
func (r TripRecord) HasStart() bool { return r.PickupTime != nil }

// HasEnd reports whether end-derived fields have been applied.
func (r TripRecord) HasEnd() bool { return r.DropoffTime != nil }

// CompletionDate returns the calendar day (UTC) the trip completed on, derived
// from the dropoff time. Only meaningful for COMPLETED records.
func (r TripRecord) CompletionDate() string {
	if r.DropoffTime == nil {
		return ""
	}
	return DayOf(*r.DropoffTime)
}

// DayOf formats a timestamp as the UTC calendar date used to partition rollups.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CompletionSignal is the one-shot notification that a trip reached COMPLETED.
type CompletionSignal struct {
	SignalID    string    `json:"signal_id"`
	TripID      string    `json:"trip_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// DailyRollup is the aggregate KPI record for one completion date. A date
// with no completed trips produces an explicit all-zero row rather than no
// row. The struct is a pure function of (date, completed-trip set): two runs
// over the same state produce identical values, which is what makes duplicate
// completion signals and replay safe.
type DailyRollup struct {
	Date        string  `json:"date"`
	TotalFare   float64 `json:"total_fare"`
	CountTrips  int64   `json:"count_trips"`
	AverageFare float64 `json:"average_fare"`
	MaxFare     float64 `json:"max_fare"`
	MinFare     float64 `json:"min_fare"`
}

// StateStore is the single source of truth for trip state. Put is conditional
// on expectedVersion matching the stored version (0 means "must not exist");
// a mismatch returns store.ErrVersionMismatch so callers can re-read and retry.
type StateStore interface {
	Get(ctx context.Context, tripID string) (TripRecord, error)
	Put(ctx context.Context, rec TripRecord, expectedVersion int64) (TripRecord, error)
	// ListCompletedOn returns every COMPLETED record whose completion date
	// equals date ("2006-01-02", UTC).
	ListCompletedOn(ctx context.Context, date string) ([]TripRecord, error)
	// ListIncompleteBefore returns ids of non-COMPLETED records last touched
	// before cutoff. Used by the staleness sweeper.
	ListIncompleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, tripID string) error
}

// CompletionPublisher delivers completion signals downstream, at-least-once.
type CompletionPublisher interface {
	Publish(ctx context.Context, sig CompletionSignal) error
}

// RollupSink receives daily rollups, upserted by date.
type RollupSink interface {
	Upsert(ctx context.Context, rollup DailyRollup) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
