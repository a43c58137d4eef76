package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-edge/internal/collector"
	"github.com/tphakala/birdnet-edge/internal/dispatch"
	"github.com/tphakala/birdnet-edge/internal/pipeline"
)

func TestDispatchMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewDispatchMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveAttempt(dispatch.Attempt{Outcome: dispatch.AttemptTransient})
	m.ObserveAttempt(dispatch.Attempt{Outcome: dispatch.AttemptTransient})
	m.ObserveAttempt(dispatch.Attempt{Outcome: dispatch.AttemptSuccess})
	m.ObserveResult("udp", dispatch.Result{
		Success:  true,
		Attempts: 3,
		Outcome:  dispatch.OutcomeDelivered,
		Duration: 1500 * time.Millisecond,
		Payload:  make([]byte, 300),
	})
	m.ObserveResult("udp", dispatch.Result{Outcome: dispatch.OutcomeAbandoned, Reason: dispatch.ReasonQueueFull})
	m.ObserveQueueDepth(7)

	assert.InDelta(t, 2, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("transient")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("udp", "delivered", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("udp", "abandoned", "queue_full")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.QueueDepth), 0)

	// the queue_full result never reached the transport
	expected := `
# HELP dispatch_attempts_per_event Number of sends used per event
# TYPE dispatch_attempts_per_event histogram
dispatch_attempts_per_event_bucket{le="1"} 0
dispatch_attempts_per_event_bucket{le="2"} 0
dispatch_attempts_per_event_bucket{le="3"} 1
dispatch_attempts_per_event_bucket{le="4"} 1
dispatch_attempts_per_event_bucket{le="5"} 1
dispatch_attempts_per_event_bucket{le="6"} 1
dispatch_attempts_per_event_bucket{le="7"} 1
dispatch_attempts_per_event_bucket{le="8"} 1
dispatch_attempts_per_event_bucket{le="+Inf"} 1
dispatch_attempts_per_event_sum 3
dispatch_attempts_per_event_count 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.AttemptsPerDelivery, strings.NewReader(expected)))
}

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveCycle(pipeline.CycleReport{Outcome: pipeline.OutcomeDispatched, Detections: 2, Duration: 3 * time.Second})
	m.ObserveCycle(pipeline.CycleReport{Outcome: pipeline.OutcomeNoDetections, Duration: 3 * time.Second})
	m.ObserveCycle(pipeline.CycleReport{Outcome: pipeline.OutcomePartialDiscarded, Partial: true})
	m.ObserveCycle(pipeline.CycleReport{Outcome: pipeline.OutcomeSkipped})

	assert.InDelta(t, 1, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("dispatched")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("no_detections")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("partial_discarded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DetectionsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PartialChunks), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastEventTime))
}

func TestCollectorMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewCollectorMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveDatagram(collector.StatusAccepted, 512)
	m.ObserveDatagram(collector.StatusDuplicate, 512)
	m.ObserveDatagram(collector.StatusInvalid, 5)
	m.ObserveStore(2, time.Millisecond, nil)
	m.ObserveStore(0, time.Millisecond, errors.New("locked"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.DatagramsTotal.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DatagramsTotal.WithLabelValues("duplicate")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DatagramsTotal.WithLabelValues("invalid")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.StoredTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StoreErrors), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewDispatchMetrics(registry)
	require.NoError(t, err)
	_, err = NewDispatchMetrics(registry)
	assert.Error(t, err)
}
