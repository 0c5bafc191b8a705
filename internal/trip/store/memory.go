// Package store holds TripRecord state behind get/conditional-put semantics.
// It is the single source of truth for trip state; nothing else writes it.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/fareflow/internal/trip/domain"
)

// Memory is an in-process StateStore for tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	trips map[string]domain.TripRecord
	clock domain.Clock
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{trips: make(map[string]domain.TripRecord), clock: domain.SystemClock{}}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func (m *Memory) WithClock(clock domain.Clock) *Memory {
	m.clock = clock
	return m
}

// Get retrieves the record for tripID.
func (m *Memory) Get(_ context.Context, tripID string) (domain.TripRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.trips[tripID]
	if !ok {
		return domain.TripRecord{}, ErrNotFound
	}
	return rec, nil
}

// Put stores rec conditionally on expectedVersion matching the stored version
// (0 means the record must not exist yet). The stored version is bumped on
// every accepted write.
func (m *Memory) Put(_ context.Context, rec domain.TripRecord, expectedVersion int64) (domain.TripRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.trips[rec.TripID]
	if ok && existing.Version != expectedVersion {
		return domain.TripRecord{}, ErrVersionMismatch
	}
	if !ok && expectedVersion != 0 {
		return domain.TripRecord{}, ErrVersionMismatch
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = m.clock.Now()
	m.trips[rec.TripID] = rec
	return rec, nil
}

// ListCompletedOn returns all COMPLETED records whose dropoff fell on date.
func (m *Memory) ListCompletedOn(_ context.Context, date string) ([]domain.TripRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TripRecord
	for _, rec := range m.trips {
		if rec.Status == domain.StatusCompleted && rec.CompletionDate() == date {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListIncompleteBefore returns ids of non-COMPLETED records untouched since cutoff.
func (m *Memory) ListIncompleteBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, rec := range m.trips {
		if rec.Status != domain.StatusCompleted && rec.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes the record for tripID. Missing records are not an error.
func (m *Memory) Delete(_ context.Context, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, tripID)
	return nil
}
