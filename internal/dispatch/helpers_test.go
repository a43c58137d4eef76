package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tphakala/birdnet-edge/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedTransport fails the first `failures` sends with err
type scriptedTransport struct {
	mu       sync.Mutex
	failures int
	err      error
	block    bool // block until ctx is done
	payloads [][]byte
	ids      []string
}

func (s *scriptedTransport) Send(ctx context.Context, payload []byte, eventID string) error {
	if s.block {
		<-ctx.Done()
		return Transient(ctx.Err())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	s.ids = append(s.ids, eventID)
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return s.err
	}
	return nil
}

func (s *scriptedTransport) Name() string { return "scripted" }
func (s *scriptedTransport) Close() error { return nil }

func (s *scriptedTransport) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// recordingObserver captures everything the dispatcher reports
type recordingObserver struct {
	mu       sync.Mutex
	attempts []Attempt
	results  []Result
	depths   []int
}

func (r *recordingObserver) ObserveAttempt(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recordingObserver) ObserveResult(_ string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingObserver) ObserveQueueDepth(d int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, d)
}

func (r *recordingObserver) resultsByReason(reason string) []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Result
	for _, res := range r.results {
		if res.Reason == reason {
			out = append(out, res)
		}
	}
	return out
}

func testEvent(id string) *event.DetectionEvent {
	return &event.DetectionEvent{
		SchemaVersion: event.SchemaVersion,
		EventID:       id,
		NodeID:        "node-1",
		TimestampUTC:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Detections: []event.Detection{
			{Species: "Northern Cardinal", ScientificName: "Cardinalis cardinalis", Confidence: 0.82},
		},
	}
}

var errUnreachable = errors.New("connection refused")

// noSleep records requested backoff delays without waiting
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.delays = append(n.delays, d)
	n.mu.Unlock()
	return ctx.Err()
}
