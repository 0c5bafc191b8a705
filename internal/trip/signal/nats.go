package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/fareflow/internal/trip/domain"
)

// NATSPublisher writes completion signals to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher builds a publisher using the provided NATS connection.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish satisfies domain.CompletionPublisher.
func (p *NATSPublisher) Publish(ctx context.Context, sig domain.CompletionSignal) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: payload, Header: nats.Header{
		"x-trace-id": {traceIDFromContext(ctx)},
		"x-trip-id":  {sig.TripID},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
