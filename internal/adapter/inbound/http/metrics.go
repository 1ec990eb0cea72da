package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Promptgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveStreams    prometheus.Gauge
	RoutingDecisions *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptgate",
				Name:      "requests_total",
				Help:      "Total number of completion requests processed",
			},
			[]string{"dialect", "status"}, // status=ok/blocked/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "promptgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"dialect"},
		),
		ActiveStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "promptgate",
				Name:      "active_streams",
				Help:      "Number of response streams currently open",
			},
		),
		RoutingDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptgate",
				Name:      "routing_decisions_total",
				Help:      "Total routing decisions by outcome",
			},
			[]string{"outcome"}, // outcome=matched/unmatched
		),
	}
}
