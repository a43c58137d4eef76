package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// Recorder captures fixed-duration chunks from a single Device.
// It is driven by one goroutine; CaptureChunk must not be called concurrently.
type Recorder struct {
	device Device
	seq    uint64
	now    func() time.Time
	log    logger.Logger
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithClock overrides the capture timestamp source
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithRecorderLogger sets the logger used by the recorder
func WithRecorderLogger(l logger.Logger) RecorderOption {
	return func(r *Recorder) {
		r.log = l
	}
}

// NewRecorder creates a recorder for an already opened device
func NewRecorder(device Device, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		device: device,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = GetLogger()
	}
	return r
}

// Device returns the device owned by the recorder
func (r *Recorder) Device() Device {
	return r.device
}

// CaptureChunk blocks until duration of audio has been read.
//
// A read failure after some audio arrived yields a zero-padded chunk with
// Partial set. A failure before any audio returns a *DeviceError. Context
// cancellation abandons the capture and returns ctx.Err().
func (r *Recorder) CaptureChunk(ctx context.Context, duration time.Duration) (*Chunk, error) {
	format := r.device.Format()
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, &DeviceError{Device: r.device.Name(), Op: "format", Err: ErrUnsupportedFormat}
	}

	total := samplesFor(duration, format.SampleRate, format.Channels)
	if total == 0 {
		return nil, errors.Newf("chunk duration %s is shorter than one frame", duration).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	pcm := make([]int16, total)
	start := r.now()
	filled := 0

	var readErr error
	for filled < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.device.Read(ctx, pcm[filled:])
		filled += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			readErr = err
			break
		}
	}

	if readErr != nil && filled == 0 {
		return nil, &DeviceError{Device: r.device.Name(), Op: "read", Err: readErr}
	}

	partial := filled < total
	if partial {
		// pcm is already zero beyond filled
		r.log.Warn("short device read, chunk zero-padded",
			logger.String("device", r.device.Name()),
			logger.Int("samples", filled),
			logger.Int("expected", total),
			logger.Error(readErr))
	}

	samples := make([]float32, total)
	int16ToFloat32(samples, pcm)

	r.seq++
	return &Chunk{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Duration:   duration,
		StartTime:  start,
		Seq:        r.seq,
		Partial:    partial,
		Source:     r.device.Name(),
	}, nil
}

// Close releases the underlying device
func (r *Recorder) Close() error {
	if err := r.device.Close(); err != nil {
		return fmt.Errorf("failed to close audio device %s: %w", r.device.Name(), err)
	}
	return nil
}
