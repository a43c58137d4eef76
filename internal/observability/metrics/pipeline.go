package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/birdnet-edge/internal/pipeline"
)

// PipelineMetrics contains the capture and inference cycle metrics.
// It implements pipeline.Observer.
type PipelineMetrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	DetectionsTotal prometheus.Counter
	PartialChunks   prometheus.Counter
	LastEventTime   prometheus.Gauge
	registry        *prometheus.Registry
}

var _ pipeline.Observer = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cycles_total",
		Help: "Total number of pipeline cycles by outcome",
	}, []string{"outcome"})

	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_cycle_duration_seconds",
		Help:    "Wall time of a cycle from capture start to hand-off",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.DetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_detections_total",
		Help: "Total number of detections carried by emitted events",
	})

	m.PartialChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_partial_chunks_total",
		Help: "Total number of zero-padded chunks",
	})

	m.LastEventTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_last_event_time_seconds",
		Help: "Timestamp of the last emitted event",
	})
}

// ObserveCycle records one finished cycle
func (m *PipelineMetrics) ObserveCycle(r pipeline.CycleReport) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	if r.Duration > 0 {
		m.CycleDuration.Observe(r.Duration.Seconds())
	}
	if r.Partial {
		m.PartialChunks.Inc()
	}
	if r.Outcome == pipeline.OutcomeDispatched {
		m.DetectionsTotal.Add(float64(r.Detections))
		m.LastEventTime.SetToCurrentTime()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CyclesTotal.Describe(ch)
	m.CycleDuration.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	m.PartialChunks.Describe(ch)
	m.LastEventTime.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CyclesTotal.Collect(ch)
	m.CycleDuration.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	m.PartialChunks.Collect(ch)
	m.LastEventTime.Collect(ch)
}
