package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareflow_events_received_total",
		Help: "Raw payloads received, grouped by transport.",
	}, []string{"transport"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareflow_events_rejected_total",
		Help: "Payloads rejected by validation, grouped by offending field.",
	}, []string{"field"})

	deadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_dead_letters_total",
		Help: "Rejected payloads routed to the dead-letter subject.",
	})

	processingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_processing_failures_total",
		Help: "Events that failed processing and await redelivery.",
	})
)
