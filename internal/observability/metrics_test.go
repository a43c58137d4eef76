package observability

import (
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-edge/internal/dispatch"
	"github.com/tphakala/birdnet-edge/internal/pipeline"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// since every call owns its registry
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Pipeline == nil || m.Dispatch == nil || m.Collector == nil {
				t.Error("metrics collector is nil")
			}
		}()
	}
	wg.Wait()
}

func TestGathererExposesDomainMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.ObserveCycle(pipeline.CycleReport{Outcome: pipeline.OutcomeDispatched, Detections: 1})
	m.Dispatch.ObserveResult("mqtt", dispatch.Result{Success: true, Attempts: 1, Outcome: dispatch.OutcomeDelivered})

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Contains(t, byName, "pipeline_cycles_total")
	require.Contains(t, byName, "dispatch_events_total")
	assert.Contains(t, byName, "go_goroutines")

	results := byName["dispatch_events_total"].GetMetric()
	require.Len(t, results, 1)
	labels := map[string]string{}
	for _, l := range results[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "mqtt", labels["transport"])
	assert.Equal(t, "delivered", labels["outcome"])
	assert.InDelta(t, 1, results[0].GetCounter().GetValue(), 0)
}
