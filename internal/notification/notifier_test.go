package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/dispatch"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/inference"
	"github.com/tphakala/birdnet-edge/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMessage struct {
	title   string
	message string
}

// fakeSender records messages instead of calling a service
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, _ := params.Title()
	f.sent = append(f.sent, sentMessage{title: title, message: message})
	return []error{nil, f.err}
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// fakeClock is advanced by hand
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestNotifier(cfg Config, s sender) (*Notifier, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 5, 30, 0, 0, time.UTC)}
	n := newNotifier(cfg, s)
	n.now = clock.Now
	return n, clock
}

func abandoned(id, reason string) dispatch.Result {
	return dispatch.Result{
		EventID:   id,
		Outcome:   dispatch.OutcomeAbandoned,
		Reason:    reason,
		LastError: fmt.Errorf("dial udp: connection refused"),
	}
}

func TestReportFailureClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantTitle string
	}{
		{
			name:      "device escalation",
			err:       fmt.Errorf("%w: 5 consecutive failures: device gone", pipeline.ErrDeviceEscalation),
			wantTitle: "[edge-01] Audio device failed",
		},
		{
			name:      "model failure",
			err:       errors.New(fmt.Errorf("%w: interpreter gone", inference.ErrInferenceFatal)).Build(),
			wantTitle: "[edge-01] Bird classifier failed",
		},
		{
			name:      "other error",
			err:       fmt.Errorf("endpoint: address in use"),
			wantTitle: "[edge-01] Node stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &fakeSender{}
			n, _ := newTestNotifier(Config{NodeID: "edge-01"}, s)

			require.NoError(t, n.ReportFailure(t.Context(), tt.err))

			sent := s.messages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantTitle, sent[0].title)
			assert.Equal(t, tt.err.Error(), sent[0].message)
		})
	}
}

func TestReportFailureNilIsNoop(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	n, _ := newTestNotifier(Config{}, s)

	require.NoError(t, n.ReportFailure(t.Context(), nil))
	assert.Empty(t, s.messages())
}

func TestNotifyCooldownPerKind(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	n, clock := newTestNotifier(Config{Cooldown: 10 * time.Minute}, s)
	ctx := t.Context()

	device := Notification{Kind: KindDeviceFailure, Title: "Audio device failed"}
	require.NoError(t, n.Notify(ctx, device))
	require.NoError(t, n.Notify(ctx, device), "suppressed alerts are not errors")
	require.NoError(t, n.Notify(ctx, Notification{Kind: KindModelFailure, Title: "Bird classifier failed"}))
	assert.Len(t, s.messages(), 2)

	clock.Advance(10 * time.Minute)
	require.NoError(t, n.Notify(ctx, device))
	assert.Len(t, s.messages(), 3)
}

func TestNotifySendErrorIsRedacted(t *testing.T) {
	t.Parallel()

	s := &fakeSender{err: fmt.Errorf("POST failed with token=abcdef123456")}
	n, _ := newTestNotifier(Config{}, s)

	err := n.Notify(t.Context(), Notification{Kind: KindNodeFailure, Title: "Node stopped"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	assert.NotContains(t, err.Error(), "abcdef123456")
}

func TestNotifyCancelledContext(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	n, _ := newTestNotifier(Config{}, s)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, n.Notify(ctx, Notification{Kind: KindNodeFailure}), context.Canceled)
	assert.Empty(t, s.messages())
}

func TestAbandonBurstRaisesOneAlert(t *testing.T) {
	t.Parallel()

	n, clock := newTestNotifier(Config{AbandonThreshold: 3, AbandonWindow: time.Minute}, &fakeSender{})

	n.ObserveResult("udp", abandoned("e1", dispatch.ReasonMaxAttempts))
	n.ObserveResult("udp", abandoned("e2", dispatch.ReasonQueueFull))
	assert.Empty(t, n.queue)

	n.ObserveResult("udp", abandoned("e3", dispatch.ReasonMaxAttempts))
	require.Len(t, n.queue, 1)
	msg := <-n.queue
	assert.Equal(t, KindDeliveryLoss, msg.Kind)
	assert.Contains(t, msg.Message, "3 events were not delivered over udp")
	assert.Contains(t, msg.Message, "connection refused")

	// the count starts over after an alert
	clock.Advance(time.Second)
	n.ObserveResult("udp", abandoned("e4", dispatch.ReasonMaxAttempts))
	assert.Empty(t, n.queue)
}

func TestAbandonWindowExpires(t *testing.T) {
	t.Parallel()

	n, clock := newTestNotifier(Config{AbandonThreshold: 2, AbandonWindow: time.Minute}, &fakeSender{})

	n.ObserveResult("mqtt", abandoned("e1", dispatch.ReasonMaxAttempts))
	clock.Advance(2 * time.Minute)
	n.ObserveResult("mqtt", abandoned("e2", dispatch.ReasonMaxAttempts))
	assert.Empty(t, n.queue)
}

func TestDeliveredAndShutdownResultsIgnored(t *testing.T) {
	t.Parallel()

	n, _ := newTestNotifier(Config{AbandonThreshold: 1}, &fakeSender{})

	n.ObserveResult("udp", dispatch.Result{EventID: "ok", Success: true, Outcome: dispatch.OutcomeDelivered})
	n.ObserveResult("udp", abandoned("late", dispatch.ReasonShutdown))
	assert.Empty(t, n.queue)
}

func TestRunSendsQueuedAlerts(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	n, _ := newTestNotifier(Config{NodeID: "edge-01", AbandonThreshold: 1}, s)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	n.ObserveResult("udp", abandoned("e1", dispatch.ReasonPermanent))

	require.Eventually(t, func() bool { return len(s.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "[edge-01] Events are being lost", s.messages()[0].title)

	cancel()
	require.NoError(t, <-done)
}

func TestNewRequiresValidURLs(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(Config{URLs: []string{"nosuchservice://token@host"}})
	require.Error(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{
		Node: conf.NodeSettings{ID: "edge-02"},
		Notification: conf.NotificationSettings{
			Enabled:          true,
			URLs:             []string{"ntfy://ntfy.sh/birds"},
			Cooldown:         time.Minute,
			AbandonThreshold: 4,
			AbandonWindow:    2 * time.Minute,
		},
	}

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "edge-02", cfg.NodeID)
	assert.Equal(t, []string{"ntfy://ntfy.sh/birds"}, cfg.URLs)
	assert.Equal(t, 4, cfg.AbandonThreshold)
	assert.Equal(t, 2*time.Minute, cfg.AbandonWindow)
}
