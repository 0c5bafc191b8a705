package rollup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rollupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareflow_rollup_runs_total",
		Help: "Aggregation runs grouped by outcome.",
	}, []string{"result"})

	rollupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fareflow_rollup_duration_seconds",
		Help:    "Time spent computing and upserting one date's rollup.",
		Buckets: prometheus.DefBuckets,
	})

	pendingDates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fareflow_rollup_pending_dates",
		Help: "Dates queued by the trigger and not yet recomputed.",
	})
)
