package store

import "errors"

var (
	// ErrNotFound is returned by Get when no record exists for the trip id.
	ErrNotFound = errors.New("trip record not found")
	// ErrVersionMismatch is returned by a conditional put whose caller does
	// not hold the current version. The caller re-reads and retries.
	ErrVersionMismatch = errors.New("trip record version mismatch")
	// ErrUnavailable wraps transient infrastructure failures. Retryable.
	ErrUnavailable = errors.New("trip store unavailable")
)
