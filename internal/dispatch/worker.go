package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// WorkerConfig configures the dispatch queue
type WorkerConfig struct {
	QueueSize     int           // pending events kept, oldest dropped beyond this
	ShutdownGrace time.Duration // time allowed for delivery after cancellation
	RateLimit     float64       // sends per second, 0 for unlimited
}

// Journal records events that will not be delivered
type Journal interface {
	Record(ctx context.Context, ev *event.DetectionEvent, res Result) error
}

// Worker delivers queued events on a single goroutine
type Worker struct {
	dispatcher *Dispatcher
	journal    Journal
	cfg        WorkerConfig
	limiter    *rate.Limiter
	log        logger.Logger

	mu     sync.Mutex
	queue  []*event.DetectionEvent
	notify chan struct{}
	closed bool
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithJournal records abandoned events in j
func WithJournal(j Journal) WorkerOption {
	return func(w *Worker) {
		w.journal = j
	}
}

// NewWorker creates a worker feeding d
func NewWorker(d *Dispatcher, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	w := &Worker{
		dispatcher: d,
		cfg:        cfg,
		log:        GetLogger(),
		queue:      make([]*event.DetectionEvent, 0, cfg.QueueSize),
		notify:     make(chan struct{}, 1),
	}
	if cfg.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue adds ev without blocking. When the queue is full the oldest pending
// event is abandoned with reason queue_full. It returns false once the worker
// has stopped accepting events.
func (w *Worker) Enqueue(ev *event.DetectionEvent) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.abandon(ev, ReasonShutdown)
		return false
	}

	var dropped *event.DetectionEvent
	if len(w.queue) >= w.cfg.QueueSize {
		dropped = w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
	}
	w.queue = append(w.queue, ev)
	depth := len(w.queue)
	w.mu.Unlock()

	w.dispatcher.observer.ObserveQueueDepth(depth)
	if dropped != nil {
		w.abandon(dropped, ReasonQueueFull)
	}

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of pending events
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) pop() *event.DetectionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	ev := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	if len(w.queue) == 0 {
		// release the backing array so it does not grow without bound
		w.queue = make([]*event.DetectionEvent, 0, w.cfg.QueueSize)
	}
	return ev
}

// Run delivers events until ctx is cancelled, then keeps delivering for up to
// ShutdownGrace. Events still pending after the grace period are abandoned
// with reason shutdown. Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	// sendCtx outlives ctx by the grace period
	sendCtx, cancelSend := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSend()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		timer := time.NewTimer(w.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelSend()
		case <-done:
		}
	}()

	for {
		if ev := w.pop(); ev != nil {
			w.deliver(sendCtx, ev)
			continue
		}
		select {
		case <-w.notify:
		case <-ctx.Done():
			return w.drain(sendCtx)
		}
	}
}

// drain stops intake and delivers what is left while sendCtx allows
func (w *Worker) drain(sendCtx context.Context) error {
	w.mu.Lock()
	w.closed = true
	pending := len(w.queue)
	w.mu.Unlock()

	if pending > 0 {
		w.log.Info("draining dispatch queue",
			logger.Int("pending", pending),
			logger.Duration("grace", w.cfg.ShutdownGrace))
	}

	for ev := w.pop(); ev != nil; ev = w.pop() {
		if sendCtx.Err() != nil {
			w.abandon(ev, ReasonShutdown)
			continue
		}
		w.deliver(sendCtx, ev)
	}
	w.dispatcher.observer.ObserveQueueDepth(0)
	return nil
}

func (w *Worker) deliver(ctx context.Context, ev *event.DetectionEvent) {
	w.dispatcher.observer.ObserveQueueDepth(w.Len())

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			w.abandon(ev, ReasonShutdown)
			return
		}
	}

	res := w.dispatcher.Send(ctx, ev)
	if res.Abandoned() {
		w.record(ev, res)
	}
}

// abandon reports an event that never reached the dispatcher
func (w *Worker) abandon(ev *event.DetectionEvent, reason string) {
	res := Result{
		EventID: ev.EventID,
		Outcome: OutcomeAbandoned,
		Reason:  reason,
	}
	w.dispatcher.observer.ObserveResult(w.dispatcher.transport.Name(), res)
	w.log.Warn("event abandoned",
		logger.String("event_id", ev.EventID),
		logger.String("reason", reason))
	w.record(ev, res)
}

func (w *Worker) record(ev *event.DetectionEvent, res Result) {
	if w.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.journal.Record(ctx, ev, res); err != nil {
		w.log.Error("failed to journal abandoned event",
			logger.String("event_id", ev.EventID),
			logger.Error(err))
	}
}
