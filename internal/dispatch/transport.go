// Package dispatch delivers detection events to the collector.
//
// A Dispatcher encodes an event once and sends the same payload through a
// Transport until it succeeds, fails permanently or runs out of attempts. The
// Worker feeds the Dispatcher from a bounded queue that never blocks the
// capture loop.
package dispatch

import "context"

// Transport sends one encoded event. Implementations classify failures by
// wrapping ErrTransient or ErrPermanent; unclassified errors are retried.
type Transport interface {
	Send(ctx context.Context, payload []byte, eventID string) error
	Name() string
	Close() error
}
