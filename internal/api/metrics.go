package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments mounted at /metrics when
// EnableMetrics is called.
type Metrics struct {
	BidAccepted    prometheus.Counter
	BidRejected    prometheus.Counter
	BidLatency     prometheus.Histogram
	TelemetryPolls prometheus.Counter
	DayAdvances    prometheus.CounterFunc
}

// NewMetrics registers and returns a fresh Metrics set. advanceTotal reads
// the engine's day-advance count, exposed as a counter without the engine
// needing to know about Prometheus.
func NewMetrics(advanceTotal func() float64) *Metrics {
	return &Metrics{
		BidAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gpuauction_bids_accepted_total",
			Help: "Number of bids accepted by the auction engine.",
		}),
		BidRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gpuauction_bids_rejected_total",
			Help: "Number of bids rejected by the auction engine.",
		}),
		BidLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuauction_bid_duration_seconds",
			Help:    "Wall-clock duration of single-bid requests.",
			Buckets: prometheus.DefBuckets,
		}),
		TelemetryPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gpuauction_telemetry_polls_total",
			Help: "Number of accepted monitoring-daemon telemetry polls.",
		}),
		DayAdvances: promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "gpuauction_day_advances_total",
			Help: "Number of day-cycle advances run since boot.",
		}, advanceTotal),
	}
}
