package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
)

func newTestDispatcher(tr Transport, maxAttempts int, obs Observer, sleeper *noSleep) *Dispatcher {
	return NewDispatcher(tr, event.JSONCodec{}, Config{
		MaxAttempts: maxAttempts,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}, WithObserver(obs), WithSleep(sleeper.sleep))
}

func TestSendSucceedsAfterTwoFailures(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: 2, err: Transient(errUnreachable)}
	obs := &recordingObserver{}
	sleeper := &noSleep{}
	d := newTestDispatcher(tr, 5, obs, sleeper)

	res := d.Send(t.Context(), testEvent("node-1-1-1714564800000"))

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
	require.NoError(t, res.Err())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.delays)

	// the same id and payload on every attempt
	require.Len(t, tr.payloads, 3)
	assert.Equal(t, tr.payloads[0], tr.payloads[2])
	assert.Equal(t, []string{"node-1-1-1714564800000", "node-1-1-1714564800000", "node-1-1-1714564800000"}, tr.ids)

	require.Len(t, obs.attempts, 3)
	assert.Equal(t, AttemptTransient, obs.attempts[0].Outcome)
	assert.Equal(t, AttemptSuccess, obs.attempts[2].Outcome)
}

func TestSendAbandonsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: -1, err: errUnreachable}
	obs := &recordingObserver{}
	sleeper := &noSleep{}
	d := newTestDispatcher(tr, 3, obs, sleeper)

	res := d.Send(t.Context(), testEvent("e1"))

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, ReasonMaxAttempts, res.Reason)
	assert.True(t, res.Abandoned())
	require.ErrorIs(t, res.LastError, errUnreachable)
	require.ErrorIs(t, res.Err(), ErrDeliveryAbandoned)
	assert.True(t, errors.IsCategory(res.Err(), errors.CategoryDispatch))

	assert.Len(t, tr.payloads, 3, "no attempts after the last one")
	assert.Len(t, sleeper.delays, 2, "no backoff after the final attempt")
	require.Len(t, obs.results, 1)
}

func TestSendReportsToEveryObserver(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: 1, err: Transient(errUnreachable)}
	first, second := &recordingObserver{}, &recordingObserver{}
	d := NewDispatcher(tr, event.JSONCodec{}, Config{MaxAttempts: 3, BackoffBase: time.Millisecond},
		WithObserver(first), WithObserver(nil), WithObserver(second), WithSleep((&noSleep{}).sleep))

	res := d.Send(t.Context(), testEvent("e-fanout"))
	require.True(t, res.Success)

	for _, obs := range []*recordingObserver{first, second} {
		assert.Len(t, obs.attempts, 2)
		require.Len(t, obs.results, 1)
		assert.Equal(t, "e-fanout", obs.results[0].EventID)
	}
}

func TestSendStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: -1, err: Permanent(errors.NewStd("too big"))}
	sleeper := &noSleep{}
	d := newTestDispatcher(tr, 5, &recordingObserver{}, sleeper)

	res := d.Send(t.Context(), testEvent("e1"))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, OutcomePermanentFailure, res.Outcome)
	assert.True(t, res.Abandoned())
	assert.Empty(t, sleeper.delays)
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: -1, err: errUnreachable}
	d := NewDispatcher(tr, event.JSONCodec{}, Config{MaxAttempts: 5, BackoffBase: time.Hour})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := d.Send(ctx, testEvent("e1"))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, ReasonShutdown, res.Reason)
}

func TestSendSingleAttempt(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: -1, err: errUnreachable}
	d := NewDispatcher(tr, event.JSONCodec{}, Config{MaxAttempts: 0})
	res := d.Send(t.Context(), testEvent("e1"))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, tr, d.Transport())
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	maxDelay := 3 * time.Second

	assert.Equal(t, time.Duration(0), Backoff(base, maxDelay, 0))
	assert.Equal(t, 500*time.Millisecond, Backoff(base, maxDelay, 1))
	assert.Equal(t, time.Second, Backoff(base, maxDelay, 2))
	assert.Equal(t, 2*time.Second, Backoff(base, maxDelay, 3))
	assert.Equal(t, 3*time.Second, Backoff(base, maxDelay, 4))
	assert.Equal(t, 3*time.Second, Backoff(base, maxDelay, 200))
	assert.Equal(t, 8*time.Second, Backoff(time.Second, 0, 4))
}

func TestClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPermanent(Permanent(errUnreachable)))
	assert.False(t, IsPermanent(Transient(errUnreachable)))
	assert.False(t, IsPermanent(errUnreachable))
	require.NoError(t, Transient(nil))
	require.NoError(t, Permanent(nil))
}
