package inference

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/birdnet-edge/internal/audio"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// AdapterConfig configures an Adapter
type AdapterConfig struct {
	Threshold float64       // minimum confidence kept
	Timeout   time.Duration // per call limit, 0 disables the limit
}

// Adapter runs a Model against chunks. Only one model call runs at a time; a
// call that outlives its timeout keeps the slot until the model returns.
type Adapter struct {
	model     Model
	threshold float64
	timeout   time.Duration
	slot      chan struct{}
	log       logger.Logger
}

type predictResult struct {
	detections []RawDetection
	err        error
}

// NewAdapter wraps model with the given threshold and timeout
func NewAdapter(model Model, cfg AdapterConfig) *Adapter {
	return &Adapter{
		model:     model,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		slot:      make(chan struct{}, 1),
		log:       GetLogger(),
	}
}

// Model returns the wrapped model
func (a *Adapter) Model() Model {
	return a.model
}

// Infer classifies chunk and returns detections at or above the threshold,
// highest confidence first.
func (a *Adapter) Infer(ctx context.Context, chunk *audio.Chunk) ([]RawDetection, error) {
	if chunk == nil || len(chunk.Samples) == 0 {
		return nil, a.wrap(ErrInferenceError, errors.NewStd("empty chunk"), errors.CategoryValidation, 0)
	}
	if want := a.model.SampleRate(); want > 0 && chunk.SampleRate != want {
		return nil, a.wrap(ErrInferenceError,
			fmt.Errorf("chunk sample rate %d Hz, model expects %d Hz", chunk.SampleRate, want),
			errors.CategoryValidation, 0)
	}

	select {
	case a.slot <- struct{}{}:
	default:
		return nil, a.wrap(ErrInferenceBusy, nil, errors.CategoryTimeout, 0)
	}

	start := time.Now()
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	defer cancel()

	samples := chunk.Mono()
	resCh := make(chan predictResult, 1)
	go func() {
		defer func() { <-a.slot }()
		dets, err := a.model.Predict(callCtx, samples, chunk.SampleRate)
		resCh <- predictResult{detections: dets, err: err}
	}()

	var res predictResult
	select {
	case res = <-resCh:
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.log.Warn("inference timed out",
			logger.String("model", a.model.Name()),
			logger.Uint64("seq", chunk.Seq),
			logger.Duration("timeout", a.timeout))
		return nil, a.wrap(ErrInferenceTimeout, nil, errors.CategoryTimeout, time.Since(start))
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, a.wrap(ErrInferenceTimeout, res.err, errors.CategoryTimeout, time.Since(start))
		}
		if errors.Is(res.err, ErrModelFatal) {
			return nil, a.wrap(ErrInferenceFatal, res.err, errors.CategoryModelLoad, time.Since(start))
		}
		return nil, a.wrap(ErrInferenceError, res.err, errors.CategoryAudioAnalysis, time.Since(start))
	}

	kept := FilterAndSort(res.detections, a.threshold)

	a.log.Debug("inference complete",
		logger.Uint64("seq", chunk.Seq),
		logger.Int("raw", len(res.detections)),
		logger.Int("kept", len(kept)),
		logger.Duration("elapsed", time.Since(start)))

	return kept, nil
}

// FilterAndSort drops detections below threshold and orders the rest by
// confidence, highest first.
func FilterAndSort(detections []RawDetection, threshold float64) []RawDetection {
	kept := make([]RawDetection, 0, len(detections))
	for i := range detections {
		if detections[i].Confidence >= threshold {
			kept = append(kept, detections[i])
		}
	}
	slices.SortStableFunc(kept, func(x, y RawDetection) int {
		return cmp.Compare(y.Confidence, x.Confidence)
	})
	return kept
}

// wrap joins sentinel with cause into an enhanced error
func (a *Adapter) wrap(sentinel, cause error, category errors.ErrorCategory, elapsed time.Duration) error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	b := errors.New(err).
		Component("inference").
		Category(category).
		Context("model", a.model.Name())
	if elapsed > 0 {
		b = b.Timing("predict", elapsed)
	}
	return b.Build()
}
