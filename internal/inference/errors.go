package inference

import (
	"fmt"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

var (
	// ErrInferenceTimeout means the model did not answer within the configured timeout.
	ErrInferenceTimeout = errors.NewStd("inference timed out")

	// ErrInferenceBusy means a previous, timed out call still holds the model.
	// It matches ErrInferenceTimeout with errors.Is.
	ErrInferenceBusy = fmt.Errorf("inference slot busy: %w", ErrInferenceTimeout)

	// ErrInferenceError is a recoverable model failure; the chunk is skipped.
	ErrInferenceError = errors.NewStd("inference failed")

	// ErrInferenceFatal means the model can no longer be used and the node must stop.
	ErrInferenceFatal = errors.NewStd("inference fatal")

	// ErrModelFatal is returned by models that cannot be loaded or have lost
	// their interpreter. The adapter maps it to ErrInferenceFatal.
	ErrModelFatal = errors.NewStd("model unusable")
)
