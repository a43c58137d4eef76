// Package observability provides the Prometheus registry and collectors for birdnet-edge.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tphakala/birdnet-edge/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Pipeline  *metrics.PipelineMetrics
	Dispatch  *metrics.DispatchMetrics
	Collector *metrics.CollectorMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	dispatchMetrics, err := metrics.NewDispatchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch metrics: %w", err)
	}

	collectorMetrics, err := metrics.NewCollectorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector metrics: %w", err)
	}

	GetLogger().Debug("metrics registry initialized")

	return &Metrics{
		registry:  registry,
		Pipeline:  pipelineMetrics,
		Dispatch:  dispatchMetrics,
		Collector: collectorMetrics,
	}, nil
}

// Gatherer returns the registry for exposition
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
