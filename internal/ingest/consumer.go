// Package ingest accepts raw trip lifecycle payloads from the transport
// boundary, validates them, and feeds them through reconciliation. The
// transport delivers at-least-once; correctness under duplicates and
// reordering comes from the reconciliation core, not from the transport.
package ingest

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/trip/event"
	"github.com/example/fareflow/internal/trip/reconcile"
	"github.com/example/fareflow/internal/trip/signal"
)

// ConsumerConfig names the NATS subjects the consumer binds to.
type ConsumerConfig struct {
	Subject    string
	Queue      string
	DLQSubject string
}

// Consumer processes one raw payload at a time: validate, apply, and emit a
// completion signal when the application transitions the trip. Multiple
// consumers may run concurrently; per-trip serialization happens in the
// store's conditional puts.
type Consumer struct {
	processor *reconcile.Processor
	emitter   *signal.Emitter
	conn      *nats.Conn
	logger    *zap.Logger
	cfg       ConsumerConfig
}

// NewConsumer constructs a Consumer. conn may be nil when ingestion happens
// over HTTP only; dead-lettering is then disabled.
func NewConsumer(processor *reconcile.Processor, emitter *signal.Emitter, conn *nats.Conn, logger *zap.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{processor: processor, emitter: emitter, conn: conn, logger: logger, cfg: cfg}
}

// Subscribe binds a queue subscription so horizontally-scaled consumers share
// the subject. Partitioning by trip_id is a transport nicety, not a
// correctness requirement, so a plain queue group is enough.
func (c *Consumer) Subscribe(ctx context.Context) (*nats.Subscription, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("subscribe %s: no NATS connection", c.cfg.Subject)
	}
	return c.conn.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, func(msg *nats.Msg) {
		eventsReceived.WithLabelValues("nats").Inc()
		if err := c.Handle(ctx, msg.Data); err != nil {
			// Redelivery is the transport's job under at-least-once.
			c.logger.Error("event processing failed", zap.Error(err))
		}
	})
}

// Handle runs one payload through validate-apply-signal. Validation failures
// are permanent: the payload is counted, logged, dead-lettered when
// configured, and never retried. Processing failures are returned to the
// caller for redelivery.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	ev, err := event.Parse(payload)
	if err != nil {
		if ve, ok := event.AsValidationError(err); ok {
			eventsRejected.WithLabelValues(ve.Field).Inc()
			c.logger.Warn("payload rejected",
				zap.String("field", ve.Field),
				zap.String("reason", ve.Reason))
			c.deadLetter(payload, ve)
			return nil
		}
		return err
	}

	res, err := c.processor.Apply(ctx, ev)
	if err != nil {
		processingFailures.Inc()
		return fmt.Errorf("process %s: %w", ev.TripID, err)
	}

	if res.Transitioned {
		if err := c.emitter.Emit(ctx, res.Record); err != nil {
			// The signal is an optimization: scheduled recomputation still
			// covers this date. Do not fail the event over it.
			c.logger.Error("completion signal lost", zap.String("trip_id", ev.TripID), zap.Error(err))
		}
	}
	return nil
}

func (c *Consumer) deadLetter(payload []byte, ve *event.ValidationError) {
	if c.conn == nil || c.cfg.DLQSubject == "" {
		return
	}
	msg := nats.NewMsg(c.cfg.DLQSubject)
	msg.Data = payload
	msg.Header.Set("x-rejected-field", ve.Field)
	msg.Header.Set("x-rejected-reason", ve.Reason)
	if err := c.conn.PublishMsg(msg); err != nil {
		c.logger.Error("dead-letter publish failed", zap.Error(err))
		return
	}
	deadLetters.Inc()
}
