package rollup

import (
	"context"
	"sync"

	"github.com/example/fareflow/internal/trip/domain"
)

// MemorySink keeps rollups in memory, for tests and local demos.
type MemorySink struct {
	mu      sync.RWMutex
	rollups map[string]domain.DailyRollup
}

// NewMemorySink constructs an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{rollups: make(map[string]domain.DailyRollup)}
}

// Upsert stores the rollup keyed by date, last write wins.
func (m *MemorySink) Upsert(_ context.Context, rollup domain.DailyRollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollups[rollup.Date] = rollup
	return nil
}

// Get returns the stored rollup for date.
func (m *MemorySink) Get(date string) (domain.DailyRollup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rollup, ok := m.rollups[date]
	return rollup, ok
}
