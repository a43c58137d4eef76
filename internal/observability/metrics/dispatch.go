// Package metrics provides Prometheus collectors for the node and collector components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/birdnet-edge/internal/dispatch"
)

// DispatchMetrics contains all Prometheus metrics related to event delivery.
// It implements dispatch.Observer.
type DispatchMetrics struct {
	AttemptsTotal       *prometheus.CounterVec
	ResultsTotal        *prometheus.CounterVec
	AttemptsPerDelivery prometheus.Histogram
	DeliveryDuration    prometheus.Histogram
	PayloadSize         prometheus.Histogram
	QueueDepth          prometheus.Gauge
	registry            *prometheus.Registry
}

var _ dispatch.Observer = (*DispatchMetrics)(nil)

// NewDispatchMetrics creates and registers the dispatch metrics.
func NewDispatchMetrics(registry *prometheus.Registry) (*DispatchMetrics, error) {
	m := &DispatchMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total number of transport sends by outcome",
	}, []string{"outcome"})

	m.ResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_total",
		Help: "Total number of events finished by transport, outcome and abandon reason",
	}, []string{"transport", "outcome", "reason"})

	m.AttemptsPerDelivery = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_attempts_per_event",
		Help:    "Number of sends used per event",
		Buckets: prometheus.LinearBuckets(1, 1, 8),
	})

	m.DeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_delivery_duration_seconds",
		Help:    "Time from first send to final outcome, including backoff",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	m.PayloadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_payload_size_bytes",
		Help:    "Size of encoded events in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Current number of events waiting in the dispatch queue",
	})
}

// ObserveAttempt counts a single send
func (m *DispatchMetrics) ObserveAttempt(a dispatch.Attempt) {
	m.AttemptsTotal.WithLabelValues(string(a.Outcome)).Inc()
}

// ObserveResult records the final outcome of an event
func (m *DispatchMetrics) ObserveResult(transport string, r dispatch.Result) {
	m.ResultsTotal.WithLabelValues(transport, string(r.Outcome), r.Reason).Inc()
	if r.Attempts > 0 {
		m.AttemptsPerDelivery.Observe(float64(r.Attempts))
		m.DeliveryDuration.Observe(r.Duration.Seconds())
	}
	if len(r.Payload) > 0 {
		m.PayloadSize.Observe(float64(len(r.Payload)))
	}
}

// ObserveQueueDepth sets the queue gauge
func (m *DispatchMetrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// Describe implements the prometheus.Collector interface.
func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.AttemptsTotal.Describe(ch)
	m.ResultsTotal.Describe(ch)
	m.AttemptsPerDelivery.Describe(ch)
	m.DeliveryDuration.Describe(ch)
	m.PayloadSize.Describe(ch)
	m.QueueDepth.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AttemptsTotal.Collect(ch)
	m.ResultsTotal.Collect(ch)
	m.AttemptsPerDelivery.Collect(ch)
	m.DeliveryDuration.Collect(ch)
	m.PayloadSize.Collect(ch)
	m.QueueDepth.Collect(ch)
}
