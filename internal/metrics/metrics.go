// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console gateway.
// Initialize once at startup and pass by pointer.
type Metrics struct {
	// Spans accepted into the live session, by source
	SpansReceived *prometheus.CounterVec

	// Spans dropped by span_id deduplication
	DuplicateSpans prometheus.Counter

	// Entries evicted from the capped live list
	LiveEvictions prometheus.Counter

	// Backend request latency by operation
	BackendLatency *prometheus.HistogramVec

	// Backend request failures by operation
	BackendFailures *prometheus.CounterVec

	// Currently connected console WebSocket clients
	WSClients prometheus.Gauge
}

// New registers all gateway metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// so repeated construction doesn't collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SpansReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console_gateway",
			Name:      "spans_received_total",
			Help:      "Spans accepted into the live session",
		}, []string{"source"}),
		DuplicateSpans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "console_gateway",
			Name:      "duplicate_spans_total",
			Help:      "Spans dropped by span_id deduplication",
		}),
		LiveEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "console_gateway",
			Name:      "live_evictions_total",
			Help:      "Entries evicted from the capped live list",
		}),
		BackendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "console_gateway",
			Name:      "backend_request_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		BackendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console_gateway",
			Name:      "backend_failures_total",
			Help:      "Backend request failures",
		}, []string{"operation"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "console_gateway",
			Name:      "websocket_clients",
			Help:      "Currently connected console WebSocket clients",
		}),
	}
}
