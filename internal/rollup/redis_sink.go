package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/fareflow/internal/trip/domain"
)

const defaultRollupPrefix = "fareflow:rollup:"

// RedisSink upserts rollups as JSON values keyed by date. A plain SET gives
// the last-write-wins semantics the engine's determinism makes safe.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSink constructs the sink.
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = defaultRollupPrefix
	}
	return &RedisSink{client: client, keyPrefix: prefix}
}

// Upsert satisfies domain.RollupSink.
func (s *RedisSink) Upsert(ctx context.Context, rollup domain.DailyRollup) error {
	data, err := json.Marshal(rollup)
	if err != nil {
		return fmt.Errorf("marshal rollup: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+rollup.Date, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set rollup %s: %w", rollup.Date, err)
	}
	return nil
}

// Get loads the rollup for date, if present.
func (s *RedisSink) Get(ctx context.Context, date string) (domain.DailyRollup, bool, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+date).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DailyRollup{}, false, nil
	}
	if err != nil {
		return domain.DailyRollup{}, false, fmt.Errorf("redis get rollup %s: %w", date, err)
	}
	var rollup domain.DailyRollup
	if err := json.Unmarshal(data, &rollup); err != nil {
		return domain.DailyRollup{}, false, fmt.Errorf("decode rollup %s: %w", date, err)
	}
	return rollup, true, nil
}
