package collector

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/event"
)

func testEvent(id string, at time.Time, dets ...event.Detection) *event.DetectionEvent {
	if len(dets) == 0 {
		dets = []event.Detection{{
			Species:        "Northern Cardinal",
			ScientificName: "Cardinalis cardinalis",
			Label:          "Cardinalis cardinalis_Northern Cardinal",
			Confidence:     0.82,
			EndSeconds:     3,
		}}
	}
	return &event.DetectionEvent{
		SchemaVersion: event.SchemaVersion,
		EventID:       id,
		NodeID:        "yard",
		TimestampUTC:  at,
		LocalTime:     at.Format("2006-01-02T15:04:05.000-07:00"),
		Sequence:      1,
		Detections:    dets,
		Metadata: event.Metadata{
			Location:        event.Location{Latitude: 39.74, Longitude: -104.99},
			Source:          "USB Audio",
			SampleRate:      48000,
			ChunkDurationMs: 3000,
			ChunkSeq:        1,
			SunPhase:        "day",
		},
	}
}

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := OpenStore(conf.StoreSettings{
		Driver: conf.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "collector.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	stored   int
}

func (o *recordingObserver) ObserveDatagram(status string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) ObserveStore(stored int, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored += stored
}

func (o *recordingObserver) snapshot() ([]string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.statuses...), o.stored
}

type failingStore struct {
	mu    sync.Mutex
	fails int
	saved []string
}

func (s *failingStore) Save(_ context.Context, ev *event.DetectionEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return 0, context.DeadlineExceeded
	}
	s.saved = append(s.saved, ev.EventID)
	return len(ev.Detections), nil
}

func (s *failingStore) savedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func (s *failingStore) Close() error { return nil }
