package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/birdnet-edge/internal/collector"
)

// CollectorMetrics contains the UDP collector ingest metrics.
// It implements collector.Observer.
type CollectorMetrics struct {
	DatagramsTotal *prometheus.CounterVec
	DatagramSize   prometheus.Histogram
	StoredTotal    prometheus.Counter
	StoreErrors    prometheus.Counter
	StoreLatency   prometheus.Histogram
	registry       *prometheus.Registry
}

var _ collector.Observer = (*CollectorMetrics)(nil)

// NewCollectorMetrics creates and registers the collector metrics.
func NewCollectorMetrics(registry *prometheus.Registry) (*CollectorMetrics, error) {
	m := &CollectorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register collector metrics: %w", err)
	}
	return m, nil
}

func (m *CollectorMetrics) initMetrics() {
	m.DatagramsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_datagrams_total",
		Help: "Total number of received datagrams by status",
	}, []string{"status"})

	m.DatagramSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_datagram_size_bytes",
		Help:    "Size of received datagrams in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 2, 11),
	})

	m.StoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_detections_stored_total",
		Help: "Total number of detection rows written",
	})

	m.StoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_store_errors_total",
		Help: "Total number of failed event writes",
	})

	m.StoreLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_store_latency_seconds",
		Help:    "Latency of event writes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
}

// ObserveDatagram counts a datagram by status
func (m *CollectorMetrics) ObserveDatagram(status string, size int) {
	m.DatagramsTotal.WithLabelValues(status).Inc()
	m.DatagramSize.Observe(float64(size))
}

// ObserveStore records one event write
func (m *CollectorMetrics) ObserveStore(stored int, elapsed time.Duration, err error) {
	m.StoreLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.StoreErrors.Inc()
		return
	}
	m.StoredTotal.Add(float64(stored))
}

// Describe implements the prometheus.Collector interface.
func (m *CollectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DatagramsTotal.Describe(ch)
	m.DatagramSize.Describe(ch)
	m.StoredTotal.Describe(ch)
	m.StoreErrors.Describe(ch)
	m.StoreLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *CollectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DatagramsTotal.Collect(ch)
	m.DatagramSize.Collect(ch)
	m.StoredTotal.Collect(ch)
	m.StoreErrors.Collect(ch)
	m.StoreLatency.Collect(ch)
}
