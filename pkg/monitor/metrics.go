package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dualtrack_track_requests_total",
			Help: "Total track executions by track kind and outcome",
		},
		[]string{"track", "outcome"},
	)

	trackLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dualtrack_track_latency_seconds",
			Help:    "Track execution latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"track"},
	)

	trackCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dualtrack_track_cost_usd_total",
			Help: "Accumulated estimated cost in USD",
		},
		[]string{"track"},
	)

	trackErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dualtrack_track_errors_total",
			Help: "Track errors by kind",
		},
		[]string{"track", "kind"},
	)
)

func observeSample(s Sample) {
	outcome := "success"
	if !s.Success {
		outcome = "failure"
	}
	requestCount.WithLabelValues(string(s.Track), outcome).Inc()
	trackLatency.WithLabelValues(string(s.Track)).Observe(s.Latency.Seconds())
	if s.CostUSD > 0 {
		trackCost.WithLabelValues(string(s.Track)).Add(s.CostUSD)
	}
	if s.ErrorKind != "" {
		trackErrors.WithLabelValues(string(s.Track), s.ErrorKind).Inc()
	}
}
