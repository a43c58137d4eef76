package event

import (
	"time"

	"github.com/tphakala/birdnet-edge/internal/audio"
	"github.com/tphakala/birdnet-edge/internal/inference"
	"github.com/tphakala/birdnet-edge/internal/logger"
	"github.com/tphakala/birdnet-edge/internal/suncalc"
)

const localTimeLayout = "2006-01-02T15:04:05.000-07:00"

// BuilderConfig is the node context stamped on every event
type BuilderConfig struct {
	NodeID    string
	IDScheme  string // sequence, uuid or timestamp
	Latitude  float64
	Longitude float64
	Location  *time.Location // local_time zone, nil for the host zone
	Model     string
}

// Builder aggregates the detections of a chunk into a DetectionEvent
type Builder struct {
	cfg  BuilderConfig
	ids  *idGenerator
	sun  *suncalc.SunCalc
	host *HostInfo
	log  logger.Logger
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithHostInfo overrides the host metadata, nil omits it
func WithHostInfo(h *HostInfo) BuilderOption {
	return func(b *Builder) {
		b.host = h
	}
}

// WithSunCalc overrides the sun phase calculator, nil omits the phase
func WithSunCalc(sc *suncalc.SunCalc) BuilderOption {
	return func(b *Builder) {
		b.sun = sc
	}
}

// NewBuilder creates a builder. start seeds the sequence counter.
func NewBuilder(cfg BuilderConfig, start time.Time, opts ...BuilderOption) (*Builder, error) {
	ids, err := newIDGenerator(cfg.IDScheme, cfg.NodeID, start)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	b := &Builder{
		cfg:  cfg,
		ids:  ids,
		sun:  suncalc.NewSunCalc(cfg.Latitude, cfg.Longitude, cfg.Location),
		host: CollectHostInfo(),
		log:  GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build returns one event for the chunk, or false when there are no detections.
// Detections are expected in the adapter's order, highest confidence first.
func (b *Builder) Build(chunk *audio.Chunk, detections []inference.RawDetection) (*DetectionEvent, bool) {
	if chunk == nil || len(detections) == 0 {
		return nil, false
	}

	captured := chunk.StartTime
	id, seq := b.ids.next(captured)

	ev := &DetectionEvent{
		SchemaVersion: SchemaVersion,
		EventID:       id,
		NodeID:        b.cfg.NodeID,
		TimestampUTC:  captured.UTC(),
		LocalTime:     captured.In(b.cfg.Location).Format(localTimeLayout),
		Sequence:      seq,
		Detections:    make([]Detection, 0, len(detections)),
		Metadata: Metadata{
			Location:        Location{Latitude: b.cfg.Latitude, Longitude: b.cfg.Longitude},
			Source:          chunk.Source,
			SampleRate:      chunk.SampleRate,
			ChunkDurationMs: chunk.Duration.Milliseconds(),
			ChunkSeq:        chunk.Seq,
			Partial:         chunk.Partial,
			Model:           b.cfg.Model,
			Host:            b.host,
		},
	}

	for i := range detections {
		d := &detections[i]
		species := d.CommonName
		if species == "" {
			species = d.Label
		}
		ev.Detections = append(ev.Detections, Detection{
			Species:        species,
			ScientificName: d.ScientificName,
			Label:          d.Label,
			Confidence:     d.Confidence,
			StartSeconds:   d.Start,
			EndSeconds:     d.End,
		})
	}

	if b.sun != nil {
		phase, err := b.sun.Phase(captured)
		if err != nil {
			b.log.Debug("sun phase unavailable", logger.Error(err))
		}
		ev.Metadata.SunPhase = string(phase)
	}

	return ev, true
}
