package rollup_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/fareflow/internal/rollup"
	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/store"
)

type countingSink struct {
	mu      sync.Mutex
	upserts map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{upserts: make(map[string]int)}
}

func (c *countingSink) Upsert(_ context.Context, rollup domain.DailyRollup) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts[rollup.Date]++
	return nil
}

func (c *countingSink) count(date string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts[date]
}

func signalPayload(t *testing.T, tripID string, completedAt time.Time) []byte {
	t.Helper()
	data, err := json.Marshal(domain.CompletionSignal{SignalID: "s", TripID: tripID, CompletedAt: completedAt})
	require.NoError(t, err)
	return data
}

func TestFlushCollapsesSignalsPerDate(t *testing.T) {
	st := store.NewMemory()
	sink := newCountingSink()
	engine := rollup.NewEngine(st, sink, nil)
	trigger := rollup.NewTrigger(engine, nil, rollup.TriggerConfig{})

	day := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// duplicate completion signals for the same trip and more trips same day
	trigger.HandleSignal(signalPayload(t, "T1", day))
	trigger.HandleSignal(signalPayload(t, "T1", day))
	trigger.HandleSignal(signalPayload(t, "T2", day.Add(time.Hour)))
	trigger.HandleSignal(signalPayload(t, "T3", day.AddDate(0, 0, 1)))

	trigger.Flush(context.Background())

	require.Equal(t, 1, sink.count("2024-01-01"))
	require.Equal(t, 1, sink.count("2024-01-02"))

	// nothing pending: flush again writes nothing new
	trigger.Flush(context.Background())
	require.Equal(t, 1, sink.count("2024-01-01"))
}

func TestMalformedSignalIsDropped(t *testing.T) {
	engine := rollup.NewEngine(store.NewMemory(), newCountingSink(), nil)
	trigger := rollup.NewTrigger(engine, nil, rollup.TriggerConfig{})

	trigger.HandleSignal([]byte("not json"))
	trigger.HandleSignal([]byte(`{"trip_id":"T1"}`))
	trigger.Flush(context.Background())
}

type flakyStore struct {
	domain.StateStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) ListCompletedOn(ctx context.Context, date string) ([]domain.TripRecord, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, store.ErrUnavailable
	}
	return f.StateStore.ListCompletedOn(ctx, date)
}

func TestFlushRetriesUnavailableInput(t *testing.T) {
	st := &flakyStore{StateStore: store.NewMemory(), failures: 2}
	sink := newCountingSink()
	engine := rollup.NewEngine(st, sink, nil)
	trigger := rollup.NewTrigger(engine, nil, rollup.TriggerConfig{RetryMax: 5, Backoff: time.Millisecond})

	trigger.Mark("2024-01-01")
	trigger.Flush(context.Background())

	require.Equal(t, 1, sink.count("2024-01-01"))
}

func TestFlushRequeuesAfterRetryExhaustion(t *testing.T) {
	st := &flakyStore{StateStore: store.NewMemory(), failures: 10}
	sink := newCountingSink()
	engine := rollup.NewEngine(st, sink, nil)
	trigger := rollup.NewTrigger(engine, nil, rollup.TriggerConfig{RetryMax: 2, Backoff: time.Millisecond})

	trigger.Mark("2024-01-01")
	trigger.Flush(context.Background())
	require.Zero(t, sink.count("2024-01-01"))

	// the date stayed queued; once the store recovers the next flush succeeds
	st.mu.Lock()
	st.failures = 0
	st.mu.Unlock()
	trigger.Flush(context.Background())
	require.Equal(t, 1, sink.count("2024-01-01"))
}
