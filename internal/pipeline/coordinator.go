// Package pipeline drives the capture, inference, build and dispatch cycle.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/birdnet-edge/internal/audio"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/inference"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// State is the coordinator's position in the cycle
type State string

const (
	StateCapturing   State = "CAPTURING"
	StateInferring   State = "INFERRING"
	StateBuilding    State = "BUILDING"
	StateDispatching State = "DISPATCHING"
	StateStopped     State = "STOPPED"
)

// Outcome is how a cycle ended
type Outcome string

const (
	OutcomeDispatched       Outcome = "dispatched"
	OutcomeNoDetections     Outcome = "no_detections"
	OutcomeSkipped          Outcome = "skipped" // inference timeout or error
	OutcomePartialDiscarded Outcome = "partial_discarded"
	OutcomeDeviceError      Outcome = "device_error"
	OutcomeEndOfStream      Outcome = "end_of_stream"
	OutcomeFatal            Outcome = "fatal"
)

// ErrDeviceEscalation is returned when capture keeps failing past the configured limit
var ErrDeviceEscalation = errors.NewStd("audio device failed repeatedly")

// Recorder captures chunks
type Recorder interface {
	CaptureChunk(ctx context.Context, duration time.Duration) (*audio.Chunk, error)
}

// Inferer classifies chunks
type Inferer interface {
	Infer(ctx context.Context, chunk *audio.Chunk) ([]inference.RawDetection, error)
}

// Builder turns detections into an event
type Builder interface {
	Build(chunk *audio.Chunk, detections []inference.RawDetection) (*event.DetectionEvent, bool)
}

// Sink accepts events for delivery without blocking
type Sink interface {
	Enqueue(ev *event.DetectionEvent) bool
}

// CycleReport describes one finished cycle
type CycleReport struct {
	Seq        uint64 // chunk sequence, 0 when capture failed
	Outcome    Outcome
	State      State // state the cycle ended in
	Err        error
	EventID    string
	Detections int
	Partial    bool
	Duration   time.Duration
}

// Observer receives a report per cycle
type Observer interface {
	ObserveCycle(r CycleReport)
}

// Config controls the coordinator
type Config struct {
	ChunkDuration     time.Duration
	DiscardPartial    bool
	MaxDeviceFailures int           // consecutive capture failures before giving up
	DeviceRetryDelay  time.Duration // first delay after a capture failure
	DeviceRetryMax    time.Duration // cap for the doubling delay
	SaveDir           string        // save chunks that produced an event, empty disables
}

// Coordinator runs the pipeline on a single goroutine. Inference is bounded by
// the Inferer; delivery happens on the Sink's own goroutine.
type Coordinator struct {
	cfg       Config
	recorder  Recorder
	inferer   Inferer
	builder   Builder
	sink      Sink
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
	log       logger.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithObserver adds a cycle observer
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithSleep replaces the device retry sleep, used by tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = sleep
	}
}

// NewCoordinator wires the pipeline stages
func NewCoordinator(cfg Config, rec Recorder, inf Inferer, b Builder, sink Sink, opts ...Option) *Coordinator {
	if cfg.MaxDeviceFailures < 1 {
		cfg.MaxDeviceFailures = 1
	}
	if cfg.DeviceRetryDelay <= 0 {
		cfg.DeviceRetryDelay = time.Second
	}
	if cfg.DeviceRetryMax < cfg.DeviceRetryDelay {
		cfg.DeviceRetryMax = cfg.DeviceRetryDelay
	}
	c := &Coordinator{
		cfg:      cfg,
		recorder: rec,
		inferer:  inf,
		builder:  b,
		sink:     sink,
		sleep:    sleepContext,
		log:      GetLogger(),
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run cycles until ctx is cancelled or the input ends, returning nil. It
// returns an error wrapping ErrDeviceEscalation or inference.ErrInferenceFatal
// when the node cannot continue.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.setState(StateStopped)

	c.log.Info("pipeline started",
		logger.Duration("chunk_duration", c.cfg.ChunkDuration),
		logger.Bool("discard_partial", c.cfg.DiscardPartial))

	failures := 0
	retryDelay := c.cfg.DeviceRetryDelay

	for {
		if ctx.Err() != nil {
			c.log.Info("pipeline stopped")
			return nil
		}

		start := time.Now()
		c.setState(StateCapturing)

		chunk, err := c.recorder.CaptureChunk(ctx, c.cfg.ChunkDuration)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("pipeline stopped")
				return nil
			}
			if audio.IsEndOfStream(err) {
				c.report(CycleReport{Outcome: OutcomeEndOfStream, State: StateCapturing, Duration: time.Since(start)})
				c.log.Info("audio input ended, pipeline stopped")
				return nil
			}

			failures++
			c.report(CycleReport{Outcome: OutcomeDeviceError, State: StateCapturing, Err: err, Duration: time.Since(start)})
			if failures >= c.cfg.MaxDeviceFailures {
				return errors.New(fmt.Errorf("%w: %d consecutive failures: %w", ErrDeviceEscalation, failures, err)).
					Component("pipeline").
					Category(errors.CategoryAudioSource).
					Priority(errors.PriorityCritical).
					Context("failures", failures).
					Build()
			}

			c.log.Warn("audio capture failed, retrying",
				logger.Int("failures", failures),
				logger.Int("max_failures", c.cfg.MaxDeviceFailures),
				logger.Duration("retry_in", retryDelay),
				logger.Error(err))

			if err := c.sleep(ctx, retryDelay); err != nil {
				c.log.Info("pipeline stopped")
				return nil
			}
			retryDelay = min(retryDelay*2, c.cfg.DeviceRetryMax)
			continue
		}

		failures = 0
		retryDelay = c.cfg.DeviceRetryDelay

		report, interrupted := c.process(ctx, chunk)
		if interrupted {
			c.log.Info("pipeline stopped", logger.Uint64("abandoned_seq", chunk.Seq))
			return nil
		}
		report.Duration = time.Since(start)
		c.report(report)

		if report.Outcome == OutcomeFatal {
			return report.Err
		}
	}
}

// process runs inference, building and dispatch for one captured chunk.
// interrupted is true when shutdown cut inference short; the cycle is not reported.
func (c *Coordinator) process(ctx context.Context, chunk *audio.Chunk) (report CycleReport, interrupted bool) {
	report = CycleReport{Seq: chunk.Seq, Partial: chunk.Partial}

	if chunk.Partial && c.cfg.DiscardPartial {
		report.Outcome = OutcomePartialDiscarded
		report.State = StateCapturing
		return report, false
	}

	c.setState(StateInferring)
	detections, err := c.inferer.Infer(ctx, chunk)
	if err != nil && ctx.Err() != nil {
		return report, true
	}
	if err != nil {
		report.State = StateInferring
		report.Err = err
		if errors.Is(err, inference.ErrInferenceFatal) {
			report.Outcome = OutcomeFatal
			c.log.Error("inference failed fatally", logger.Uint64("seq", chunk.Seq), logger.Error(err))
			return report, false
		}
		report.Outcome = OutcomeSkipped
		c.log.Warn("inference failed, cycle skipped", logger.Uint64("seq", chunk.Seq), logger.Error(err))
		return report, false
	}

	c.setState(StateBuilding)
	ev, ok := c.builder.Build(chunk, detections)
	if !ok {
		report.Outcome = OutcomeNoDetections
		report.State = StateBuilding
		return report, false
	}
	report.EventID = ev.EventID
	report.Detections = len(ev.Detections)

	if c.cfg.SaveDir != "" {
		path := filepath.Join(c.cfg.SaveDir, ev.EventID+".wav")
		if err := audio.SaveChunkWAV(path, chunk); err != nil {
			c.log.Warn("failed to save detection audio",
				logger.String("event_id", ev.EventID),
				logger.Error(err))
		}
	}

	c.setState(StateDispatching)
	c.sink.Enqueue(ev)

	if top, ok := ev.Top(); ok {
		c.log.Info("detection",
			logger.String("event_id", ev.EventID),
			logger.String("species", top.Species),
			logger.Float64("confidence", top.Confidence),
			logger.Int("detections", len(ev.Detections)))
	}

	report.Outcome = OutcomeDispatched
	report.State = StateDispatching
	return report, false
}

func (c *Coordinator) report(r CycleReport) {
	for _, o := range c.observers {
		o.ObserveCycle(r)
	}
	if r.Outcome != OutcomeDispatched {
		c.log.Debug("cycle finished",
			logger.Uint64("seq", r.Seq),
			logger.String("outcome", string(r.Outcome)),
			logger.Duration("elapsed", r.Duration))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
