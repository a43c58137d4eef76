package audio

import (
	"fmt"
	"io"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

// Sentinel device failures. Devices wrap these so callers can tell them apart.
var (
	ErrDeviceUnavailable  = errors.NewStd("audio device unavailable")
	ErrDeviceDisconnected = errors.NewStd("audio device disconnected")
	ErrUnsupportedFormat  = errors.NewStd("unsupported audio format")
)

// DeviceError reports a capture failure. It is recoverable: the pipeline
// retries capture with backoff before escalating.
type DeviceError struct {
	Device string // device name
	Op     string // operation that failed, e.g. "read"
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %q %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.CategorizedError
func (e *DeviceError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryAudioSource
}

// IsEndOfStream reports whether err means a file source has no more audio.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
