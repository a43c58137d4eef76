package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// Outcome is the final state of a delivery
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeAbandoned        Outcome = "abandoned"         // attempts exhausted, queue overflow or shutdown
	OutcomePermanentFailure Outcome = "permanent_failure" // counted as abandoned
)

// Abandon reasons
const (
	ReasonMaxAttempts = "max_attempts"
	ReasonPermanent   = "permanent"
	ReasonQueueFull   = "queue_full"
	ReasonShutdown    = "shutdown"
	ReasonEncoding    = "encoding"
)

// AttemptOutcome classifies a single send
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptTransient AttemptOutcome = "transient"
	AttemptPermanent AttemptOutcome = "permanent"
)

// Attempt records one transport send
type Attempt struct {
	EventID string
	Number  int
	At      time.Time
	Outcome AttemptOutcome
	Err     error
}

// Result summarizes the delivery of one event
type Result struct {
	EventID   string
	Success   bool
	Attempts  int
	LastError error
	Outcome   Outcome
	Reason    string // abandon reason, empty on success
	Duration  time.Duration
	Payload   []byte // encoded event, kept for the journal
}

// Abandoned reports whether the event will not be delivered
func (r Result) Abandoned() bool {
	return r.Outcome == OutcomeAbandoned || r.Outcome == OutcomePermanentFailure
}

// Err returns nil on success and an error wrapping ErrDeliveryAbandoned otherwise
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	err := ErrDeliveryAbandoned
	if r.LastError != nil {
		err = fmt.Errorf("%w: %w", ErrDeliveryAbandoned, r.LastError)
	}
	return errors.New(err).
		Component("dispatch").
		Category(errors.CategoryDispatch).
		Context("event_id", r.EventID).
		Context("attempts", r.Attempts).
		Context("reason", r.Reason).
		Build()
}

// Observer receives delivery progress, typically for metrics
type Observer interface {
	ObserveAttempt(a Attempt)
	ObserveResult(transport string, r Result)
	ObserveQueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(Attempt)       {}
func (nopObserver) ObserveResult(string, Result) {}
func (nopObserver) ObserveQueueDepth(int)        {}

// observers fans out to several observers in order
type observers []Observer

func (obs observers) ObserveAttempt(a Attempt) {
	for _, o := range obs {
		o.ObserveAttempt(a)
	}
}

func (obs observers) ObserveResult(transport string, r Result) {
	for _, o := range obs {
		o.ObserveResult(transport, r)
	}
}

func (obs observers) ObserveQueueDepth(depth int) {
	for _, o := range obs {
		o.ObserveQueueDepth(depth)
	}
}

// Config controls the retry policy
type Config struct {
	MaxAttempts int           // total sends per event, including the first
	BackoffBase time.Duration // delay after the first failure
	BackoffMax  time.Duration // cap for the doubling delay
}

// Dispatcher sends events with bounded retry and exponential backoff
type Dispatcher struct {
	transport Transport
	codec     event.Codec
	cfg       Config
	observer  Observer
	sleep     func(ctx context.Context, d time.Duration) error
	log       logger.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithObserver adds a delivery observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o == nil {
			return
		}
		switch cur := d.observer.(type) {
		case nopObserver:
			d.observer = o
		case observers:
			d.observer = append(cur, o)
		default:
			d.observer = observers{cur, o}
		}
	}
}

// WithSleep replaces the backoff sleep, used by tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// NewDispatcher creates a dispatcher over transport
func NewDispatcher(transport Transport, codec event.Codec, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMax > 0 && cfg.BackoffBase > cfg.BackoffMax {
		cfg.BackoffBase = cfg.BackoffMax
	}
	d := &Dispatcher{
		transport: transport,
		codec:     codec,
		cfg:       cfg,
		observer:  nopObserver{},
		sleep:     sleepContext,
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transport returns the underlying transport
func (d *Dispatcher) Transport() Transport {
	return d.transport
}

// Observer returns the configured observer
func (d *Dispatcher) Observer() Observer {
	return d.observer
}

// Backoff returns the delay after failed attempt n (1-based):
// base * 2^(n-1), capped at max when max > 0.
func Backoff(base, maxDelay time.Duration, n int) time.Duration {
	if n < 1 || base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
		if delay <= 0 { // overflow
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Send delivers ev. The payload is encoded once and resent unchanged, so
// every attempt carries the same event_id.
func (d *Dispatcher) Send(ctx context.Context, ev *event.DetectionEvent) Result {
	start := time.Now()
	res := Result{EventID: ev.EventID}

	payload, err := d.codec.Encode(ev)
	if err != nil {
		res.LastError = err
		res.Outcome = OutcomePermanentFailure
		res.Reason = ReasonEncoding
		return d.finish(res, start)
	}
	res.Payload = payload

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.LastError = err
			res.Outcome = OutcomeAbandoned
			res.Reason = ReasonShutdown
			return d.finish(res, start)
		}

		err := d.transport.Send(ctx, payload, ev.EventID)
		res.Attempts = attempt

		a := Attempt{EventID: ev.EventID, Number: attempt, At: time.Now(), Err: err}
		switch {
		case err == nil:
			a.Outcome = AttemptSuccess
		case IsPermanent(err):
			a.Outcome = AttemptPermanent
		default:
			a.Outcome = AttemptTransient
		}
		d.observer.ObserveAttempt(a)

		if err == nil {
			res.Success = true
			res.LastError = nil
			res.Outcome = OutcomeDelivered
			return d.finish(res, start)
		}
		res.LastError = err

		if a.Outcome == AttemptPermanent {
			res.Outcome = OutcomePermanentFailure
			res.Reason = ReasonPermanent
			return d.finish(res, start)
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := Backoff(d.cfg.BackoffBase, d.cfg.BackoffMax, attempt)
		d.log.Debug("dispatch attempt failed, retrying",
			logger.String("event_id", ev.EventID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", delay),
			logger.Error(err))

		if err := d.sleep(ctx, delay); err != nil {
			res.Outcome = OutcomeAbandoned
			res.Reason = ReasonShutdown
			return d.finish(res, start)
		}
	}

	res.Outcome = OutcomeAbandoned
	res.Reason = ReasonMaxAttempts
	return d.finish(res, start)
}

func (d *Dispatcher) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	d.observer.ObserveResult(d.transport.Name(), res)

	if res.Success {
		d.log.Debug("event delivered",
			logger.String("event_id", res.EventID),
			logger.Int("attempts", res.Attempts),
			logger.Duration("elapsed", res.Duration))
		return res
	}

	d.log.Warn("event delivery abandoned",
		logger.String("event_id", res.EventID),
		logger.String("outcome", string(res.Outcome)),
		logger.String("reason", res.Reason),
		logger.Int("attempts", res.Attempts),
		logger.Error(res.LastError))
	return res
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
