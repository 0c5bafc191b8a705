package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/ingest"
	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/reconcile"
	"github.com/example/fareflow/internal/trip/signal"
	"github.com/example/fareflow/internal/trip/store"
)

type capturedSignals struct {
	signals []domain.CompletionSignal
}

func (c *capturedSignals) Publish(_ context.Context, sig domain.CompletionSignal) error {
	c.signals = append(c.signals, sig)
	return nil
}

func newConsumer(st domain.StateStore) (*ingest.Consumer, *capturedSignals) {
	captured := &capturedSignals{}
	processor := reconcile.New(st, nil, reconcile.Config{MaxAttempts: 3, Backoff: time.Millisecond})
	emitter := signal.NewEmitter(captured, nil, signal.EmitterConfig{RetryMax: 2, Backoff: time.Millisecond})
	return ingest.NewConsumer(processor, emitter, nil, nil, ingest.ConsumerConfig{}), captured
}

const startPayload = `{
	"trip_id": "T1",
	"data_type": "trip_start",
	"pickup_datetime": "2024-01-01T09:50:00Z",
	"pickup_location_id": 138,
	"dropoff_location_id": 263,
	"vendor_id": 2
}`

const endPayload = `{
	"trip_id": "T1",
	"data_type": "trip_end",
	"dropoff_datetime": "2024-01-01T10:05:00Z",
	"actual_fare_amount": 15.50
}`

func TestHandleOutOfOrderDelivery(t *testing.T) {
	st := store.NewMemory()
	consumer, captured := newConsumer(st)
	ctx := context.Background()

	// END arrives first, then START
	require.NoError(t, consumer.Handle(ctx, []byte(endPayload)))
	require.Empty(t, captured.signals)

	require.NoError(t, consumer.Handle(ctx, []byte(startPayload)))
	require.Len(t, captured.signals, 1)
	require.Equal(t, "T1", captured.signals[0].TripID)
	require.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), captured.signals[0].CompletedAt)

	rec, err := st.Get(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.Equal(t, 15.50, *rec.FareAmount)
	require.NotNil(t, rec.PickupTime)
}

func TestHandleDuplicateDeliverySignalsOnce(t *testing.T) {
	st := store.NewMemory()
	consumer, captured := newConsumer(st)
	ctx := context.Background()

	deliveries := []string{startPayload, endPayload, endPayload, startPayload, endPayload}
	for _, payload := range deliveries {
		require.NoError(t, consumer.Handle(ctx, []byte(payload)))
	}
	require.Len(t, captured.signals, 1)
}

func TestHandleDropsInvalidPayloadWithoutStoreWrite(t *testing.T) {
	st := store.NewMemory()
	consumer, captured := newConsumer(st)
	ctx := context.Background()

	// trip_start missing pickup_location_id
	invalid := `{
		"trip_id": "T9",
		"data_type": "trip_start",
		"pickup_datetime": "2024-01-01T09:50:00Z",
		"dropoff_location_id": 263,
		"vendor_id": 2
	}`
	require.NoError(t, consumer.Handle(ctx, []byte(invalid)))
	require.Empty(t, captured.signals)

	_, err := st.Get(ctx, "T9")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleReturnsProcessingFailures(t *testing.T) {
	st := &alwaysConflicting{}
	consumer, _ := newConsumer(st)

	err := consumer.Handle(context.Background(), []byte(startPayload))
	require.ErrorIs(t, err, reconcile.ErrRetryExhausted)
}

type alwaysConflicting struct{ store.Memory }

func (a *alwaysConflicting) Put(context.Context, domain.TripRecord, int64) (domain.TripRecord, error) {
	return domain.TripRecord{}, store.ErrVersionMismatch
}
