package dispatch

import (
	"fmt"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

var (
	// ErrTransient marks a failure worth retrying: unreachable collector, missing ack.
	ErrTransient = errors.NewStd("transient dispatch failure")

	// ErrPermanent marks a failure that retrying cannot fix, such as an oversized payload.
	ErrPermanent = errors.NewStd("permanent dispatch failure")

	// ErrDeliveryAbandoned is returned by Result.Err for events that were given up on.
	ErrDeliveryAbandoned = errors.NewStd("delivery abandoned")
)

// Transient wraps err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err must not be retried. Unclassified errors are transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
