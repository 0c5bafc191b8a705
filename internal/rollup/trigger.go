package rollup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/domain"
)

// TriggerConfig tunes the signal-driven trigger.
type TriggerConfig struct {
	// Debounce is how long marked dates accumulate before a flush. A burst of
	// completion signals for one date costs one recomputation, not one each.
	Debounce time.Duration
	RetryMax int
	Backoff  time.Duration
}

// Trigger consumes completion signals, collapses them into a set of dirty
// dates, and invokes the engine once per date per flush. Because the engine
// recomputes from authoritative state, duplicate and replayed signals are
// absorbed here at no cost beyond the extra mark.
type Trigger struct {
	engine *Engine
	logger *zap.Logger
	cfg    TriggerConfig

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewTrigger constructs a Trigger.
func NewTrigger(engine *Engine, logger *zap.Logger, cfg TriggerConfig) *Trigger {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{engine: engine, logger: logger, cfg: cfg, pending: make(map[string]struct{})}
}

// HandleSignal ingests one completion signal payload. Malformed payloads are
// logged and dropped; the next scheduled recomputation covers their date.
func (t *Trigger) HandleSignal(data []byte) {
	var sig domain.CompletionSignal
	if err := json.Unmarshal(data, &sig); err != nil || sig.CompletedAt.IsZero() {
		t.logger.Warn("malformed completion signal", zap.ByteString("payload", data))
		return
	}
	t.Mark(domain.DayOf(sig.CompletedAt))
}

// Mark queues date for recomputation at the next flush.
func (t *Trigger) Mark(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[date]; !ok {
		t.pending[date] = struct{}{}
		pendingDates.Set(float64(len(t.pending)))
	}
}

// Run flushes pending dates on the debounce interval until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

// Flush recomputes every pending date. Dates whose run fails retryably are
// re-queued for the next flush.
func (t *Trigger) Flush(ctx context.Context) {
	t.mu.Lock()
	dates := make([]string, 0, len(t.pending))
	for date := range t.pending {
		dates = append(dates, date)
	}
	t.pending = make(map[string]struct{})
	pendingDates.Set(0)
	t.mu.Unlock()

	for _, date := range dates {
		if err := t.runWithRetry(ctx, date); err != nil {
			t.logger.Error("rollup run failed", zap.String("date", date), zap.Error(err))
			if Retryable(err) {
				t.Mark(date)
			}
		}
	}
}

func (t *Trigger) runWithRetry(ctx context.Context, date string) error {
	var attempt int
	for {
		attempt++
		_, err := t.engine.RunForDate(ctx, date)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= t.cfg.RetryMax {
			return err
		}
		backoff := time.Duration(attempt*attempt) * t.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
