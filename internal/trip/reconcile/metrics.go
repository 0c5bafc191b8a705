package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareflow_events_applied_total",
		Help: "Trip events processed, grouped by kind and merge outcome.",
	}, []string{"kind", "outcome"})

	completionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_trip_completions_total",
		Help: "Trips that transitioned into COMPLETED.",
	})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_version_conflicts_total",
		Help: "Conditional puts rejected by the store and retried.",
	})

	retryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_apply_retry_exhausted_total",
		Help: "Event applications abandoned after exhausting retries.",
	})

	staleSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fareflow_stale_trips_swept_total",
		Help: "Permanently-incomplete trip records removed by the sweeper.",
	})
)
