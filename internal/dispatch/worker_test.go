package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-edge/internal/event"
)

func newTestWorker(tr Transport, obs Observer, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	d := NewDispatcher(tr, event.JSONCodec{}, Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}, WithObserver(obs))
	return NewWorker(d, cfg, opts...)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	w := newTestWorker(&scriptedTransport{}, obs, WorkerConfig{QueueSize: 2})

	for i := 1; i <= 3; i++ {
		assert.True(t, w.Enqueue(testEvent(fmt.Sprintf("e%d", i))))
	}
	assert.Equal(t, 2, w.Len())

	dropped := obs.resultsByReason(ReasonQueueFull)
	require.Len(t, dropped, 1)
	assert.Equal(t, "e1", dropped[0].EventID)
	assert.Equal(t, OutcomeAbandoned, dropped[0].Outcome)

	assert.Equal(t, "e2", w.pop().EventID)
	assert.Equal(t, "e3", w.pop().EventID)
	assert.Nil(t, w.pop())
}

func TestWorkerDeliversInOrder(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	w := newTestWorker(tr, &recordingObserver{}, WorkerConfig{QueueSize: 8, ShutdownGrace: time.Second})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := range 5 {
		w.Enqueue(testEvent(fmt.Sprintf("e%d", i)))
	}

	require.Eventually(t, func() bool { return len(tr.sent()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, tr.sent())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, w.Enqueue(testEvent("late")), "stopped worker rejects events")
}

func TestWorkerDrainsWithinGrace(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	w := newTestWorker(tr, &recordingObserver{}, WorkerConfig{QueueSize: 8, ShutdownGrace: time.Second})

	for i := range 3 {
		w.Enqueue(testEvent(fmt.Sprintf("e%d", i)))
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, w.Run(ctx))

	assert.Len(t, tr.sent(), 3)
	assert.Zero(t, w.Len())
}

func TestWorkerAbandonsAfterGrace(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{block: true}
	obs := &recordingObserver{}
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	w := newTestWorker(tr, obs, WorkerConfig{QueueSize: 8, ShutdownGrace: 50 * time.Millisecond}, WithJournal(journal))
	for i := range 3 {
		w.Enqueue(testEvent(fmt.Sprintf("e%d", i)))
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	start := time.Now()
	require.NoError(t, w.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	shutdown := obs.resultsByReason(ReasonShutdown)
	require.Len(t, shutdown, 3, "in-flight and queued events are abandoned")

	rows, err := journal.List(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestWorkerRateLimit(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	w := newTestWorker(tr, &recordingObserver{}, WorkerConfig{QueueSize: 8, ShutdownGrace: time.Second, RateLimit: 20})

	for i := range 3 {
		w.Enqueue(testEvent(fmt.Sprintf("e%d", i)))
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(tr.sent()) == 3 }, 2*time.Second, 5*time.Millisecond)
	// burst of one, then 50ms per token
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
