package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fareflow/internal/trip/domain"
)

const (
	defaultKeyPrefix = "fareflow:"

	tripKeyFmt       = "%strip:%s"
	completedKeyFmt  = "%scompleted:%s"
	incompleteKeyFmt = "%sincomplete"
)

// Redis implements StateStore on a Redis keyspace. Conditional puts run
// inside a WATCH/MULTI transaction so concurrent writers for the same trip
// serialize through version checks, never through locks. Two index
// structures are maintained in the same transaction as the record write:
// a per-completion-date set feeding the aggregation scan, and a zset of
// incomplete trips scored by last-update time feeding the staleness sweep.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	clock     domain.Clock
}

// NewRedis constructs a Redis-backed store.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, keyPrefix: prefix, clock: domain.SystemClock{}}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func (s *Redis) WithClock(clock domain.Clock) *Redis {
	s.clock = clock
	return s
}

func (s *Redis) tripKey(tripID string) string {
	return fmt.Sprintf(tripKeyFmt, s.keyPrefix, tripID)
}

func (s *Redis) completedKey(date string) string {
	return fmt.Sprintf(completedKeyFmt, s.keyPrefix, date)
}

func (s *Redis) incompleteKey() string {
	return fmt.Sprintf(incompleteKeyFmt, s.keyPrefix)
}

// Get retrieves the record for tripID.
func (s *Redis) Get(ctx context.Context, tripID string) (domain.TripRecord, error) {
	data, err := s.client.Get(ctx, s.tripKey(tripID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TripRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("%w: get %s: %v", ErrUnavailable, tripID, err)
	}
	var rec domain.TripRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.TripRecord{}, fmt.Errorf("decode record %s: %w", tripID, err)
	}
	return rec, nil
}

// Put stores rec conditionally on expectedVersion. The version check runs
// under WATCH; any concurrent write to the same key aborts the transaction
// and surfaces as ErrVersionMismatch for the caller to re-read and retry.
func (s *Redis) Put(ctx context.Context, rec domain.TripRecord, expectedVersion int64) (domain.TripRecord, error) {
	key := s.tripKey(rec.TripID)
	now := s.clock.Now()

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return ErrVersionMismatch
			}
		case err != nil:
			return fmt.Errorf("%w: read %s: %v", ErrUnavailable, rec.TripID, err)
		default:
			var stored domain.TripRecord
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("decode record %s: %w", rec.TripID, err)
			}
			if stored.Version != expectedVersion {
				return ErrVersionMismatch
			}
		}

		rec.Version = expectedVersion + 1
		rec.UpdatedAt = now
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.TripID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if rec.Status == domain.StatusCompleted {
				pipe.SAdd(ctx, s.completedKey(rec.CompletionDate()), rec.TripID)
				pipe.ZRem(ctx, s.incompleteKey(), rec.TripID)
			} else {
				pipe.ZAdd(ctx, s.incompleteKey(), redis.Z{Score: float64(now.Unix()), Member: rec.TripID})
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key between WATCH and EXEC.
		return domain.TripRecord{}, ErrVersionMismatch
	case errors.Is(err, ErrVersionMismatch):
		return domain.TripRecord{}, ErrVersionMismatch
	case err != nil:
		return domain.TripRecord{}, err
	}
	return rec, nil
}

// ListCompletedOn scans the per-date completion index and loads each record.
func (s *Redis) ListCompletedOn(ctx context.Context, date string) ([]domain.TripRecord, error) {
	ids, err := s.client.SMembers(ctx, s.completedKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: scan completed %s: %v", ErrUnavailable, date, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.tripKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load completed %s: %v", ErrUnavailable, date, err)
	}
	records := make([]domain.TripRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index member without a record: deleted out of band.
			continue
		}
		var rec domain.TripRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		if rec.Status == domain.StatusCompleted && rec.CompletionDate() == date {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ListIncompleteBefore returns ids from the incomplete index last touched
// before cutoff.
func (s *Redis) ListIncompleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.incompleteKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: scan incomplete: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Delete removes the record and its index entries.
func (s *Redis) Delete(ctx context.Context, tripID string) error {
	rec, err := s.Get(ctx, tripID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tripKey(tripID))
		pipe.ZRem(ctx, s.incompleteKey(), tripID)
		if rec.Status == domain.StatusCompleted {
			pipe.SRem(ctx, s.completedKey(rec.CompletionDate()), tripID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, tripID, err)
	}
	return nil
}
