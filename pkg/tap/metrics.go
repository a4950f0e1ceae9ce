package tap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for stream syncs.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_sentry_pages_total",
		Help: "Pages fetched by stream",
	}, []string{"stream"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_sentry_records_total",
		Help: "Records emitted by stream",
	}, []string{"stream"})

	recordsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_sentry_records_dropped_total",
		Help: "Records dropped by post-processing by stream",
	}, []string{"stream"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tap_sentry_stream_duration_seconds",
		Help:    "Stream sync duration in seconds by stream and outcome",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"stream", "outcome"})
)
