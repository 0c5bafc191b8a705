package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/trip/domain"
)

func startEvent(tripID string) domain.TripEvent {
	return domain.TripEvent{
		TripID:            tripID,
		Kind:              domain.KindStart,
		Timestamp:         time.Date(2024, 1, 1, 9, 50, 0, 0, time.UTC),
		PickupLocationID:  "138",
		DropoffLocationID: "263",
		VendorID:          "2",
	}
}

func endEvent(tripID string, fare float64) domain.TripEvent {
	return domain.TripEvent{
		TripID:     tripID,
		Kind:       domain.KindEnd,
		Timestamp:  time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC),
		FareAmount: &fare,
	}
}

func TestMergeStartThenEndCompletes(t *testing.T) {
	rec := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}

	rec, outcome := domain.Merge(rec, startEvent("T1"))
	require.Equal(t, domain.MergeApplied, outcome)
	require.Equal(t, domain.StatusStarted, rec.Status)

	rec, outcome = domain.Merge(rec, endEvent("T1", 15.50))
	require.Equal(t, domain.MergeApplied, outcome)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.Equal(t, 15.50, *rec.FareAmount)
	require.Equal(t, "2024-01-01", rec.CompletionDate())
}

func TestMergeIsOrderIndependent(t *testing.T) {
	start := startEvent("T1")
	end := endEvent("T1", 15.50)

	a := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	a, _ = domain.Merge(a, start)
	a, _ = domain.Merge(a, end)

	b := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	b, outcome := domain.Merge(b, end)
	require.Equal(t, domain.MergeApplied, outcome)
	require.Equal(t, domain.StatusEndOnly, b.Status)
	b, _ = domain.Merge(b, start)

	require.Equal(t, a, b)
	require.Equal(t, domain.StatusCompleted, b.Status)
	require.True(t, b.HasStart())
	require.True(t, b.HasEnd())
}

func TestMergeDuplicateIsNoOp(t *testing.T) {
	start := startEvent("T1")

	rec := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	once, outcome := domain.Merge(rec, start)
	require.Equal(t, domain.MergeApplied, outcome)

	twice, outcome := domain.Merge(once, start)
	require.Equal(t, domain.MergeDuplicate, outcome)
	require.Equal(t, once, twice)
}

func TestMergeDuplicateEndKeepsCompleted(t *testing.T) {
	rec := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	rec, _ = domain.Merge(rec, startEvent("T1"))
	rec, _ = domain.Merge(rec, endEvent("T1", 15.50))
	require.Equal(t, domain.StatusCompleted, rec.Status)

	again, outcome := domain.Merge(rec, endEvent("T1", 15.50))
	require.Equal(t, domain.MergeDuplicate, outcome)
	require.Equal(t, domain.StatusCompleted, again.Status)
}

func TestMergeConflictingEndWinsFirstWriter(t *testing.T) {
	rec := domain.TripRecord{TripID: "T1", Status: domain.StatusStarted}
	rec, _ = domain.Merge(rec, endEvent("T1", 15.50))

	changed, outcome := domain.Merge(rec, endEvent("T1", 99.99))
	require.Equal(t, domain.MergeConflict, outcome)
	require.Equal(t, 15.50, *changed.FareAmount)
}

func TestMergeUnknownKindIsConflict(t *testing.T) {
	rec := domain.TripRecord{TripID: "T1"}
	_, outcome := domain.Merge(rec, domain.TripEvent{TripID: "T1", Kind: "trip_pause"})
	require.Equal(t, domain.MergeConflict, outcome)
}
