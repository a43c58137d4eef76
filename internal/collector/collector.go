// Package collector receives detection events over UDP, drops duplicates and
// persists them.
package collector

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// Datagram statuses reported to the Observer
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusInvalid   = "invalid"
	StatusFailed    = "store_failed"
)

const (
	defaultMaxPacketSize = 65535
	defaultDedupTTL      = 10 * time.Minute
	storeTimeout         = 10 * time.Second
)

// ErrUnsupportedSchema is returned for events newer than this build understands
var ErrUnsupportedSchema = errors.NewStd("unsupported event schema version")

// Observer receives ingest progress, typically for metrics
type Observer interface {
	ObserveDatagram(status string, size int)
	ObserveStore(stored int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDatagram(string, int)            {}
func (nopObserver) ObserveStore(int, time.Duration, error) {}

// Config controls the listener
type Config struct {
	Listen        string
	MaxPacketSize int
	Ack           bool
	DedupTTL      time.Duration
	ReceiveBuffer int // SO_RCVBUF in bytes, 0 keeps the OS default
}

// ConfigFromSettings maps the collector settings section
func ConfigFromSettings(s *conf.CollectorSettings) Config {
	return Config{
		Listen:        s.Listen,
		MaxPacketSize: s.MaxPacketSize,
		Ack:           s.Ack,
		DedupTTL:      s.DedupTTL,
		ReceiveBuffer: s.ReceiveBuffer,
	}
}

// Collector is a UDP event sink
type Collector struct {
	cfg      Config
	store    Store
	seen     *cache.Cache
	observer Observer
	log      logger.Logger

	mu   sync.Mutex
	addr net.Addr
}

// Option configures a Collector
type Option func(*Collector)

// WithObserver sets the ingest observer
func WithObserver(o Observer) Option {
	return func(c *Collector) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a collector writing to store
func New(cfg Config, store Store, opts ...Option) *Collector {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	// expired ids are purged by Serve, no janitor goroutine
	c := &Collector{
		cfg:      cfg,
		store:    store,
		seen:     cache.New(cfg.DedupTTL, 0),
		observer: nopObserver{},
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run listens on the configured address until ctx is cancelled
func (c *Collector) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", c.cfg.Listen)
	if err != nil {
		return errors.New(err).
			Component("collector").
			Category(errors.CategoryNetwork).
			NetworkContext(c.cfg.Listen, 0).
			Build()
	}

	if c.cfg.ReceiveBuffer > 0 {
		if udp, ok := pc.(*net.UDPConn); ok {
			if err := setReceiveBuffer(udp, c.cfg.ReceiveBuffer); err != nil {
				c.log.Warn("failed to set socket receive buffer",
					logger.Int("bytes", c.cfg.ReceiveBuffer),
					logger.Error(err))
			} else if size, err := receiveBuffer(udp); err == nil {
				c.log.Debug("socket receive buffer", logger.Int("bytes", size))
			}
		}
	}

	return c.Serve(ctx, pc)
}

// Serve reads datagrams from pc until ctx is cancelled. It closes pc.
func (c *Collector) Serve(ctx context.Context, pc net.PacketConn) error {
	c.mu.Lock()
	c.addr = pc.LocalAddr()
	c.mu.Unlock()

	c.log.Info("collector listening",
		logger.String("address", pc.LocalAddr().String()),
		logger.Bool("ack", c.cfg.Ack),
		logger.Duration("dedup_ttl", c.cfg.DedupTTL))

	stop := context.AfterFunc(ctx, func() {
		_ = pc.Close()
	})
	defer stop()

	buf := make([]byte, c.cfg.MaxPacketSize)
	lastPurge := time.Now()

	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("collector stopped")
				return nil
			}
			_ = pc.Close()
			return errors.New(err).
				Component("collector").
				Category(errors.CategoryNetwork).
				Context("operation", "read").
				Build()
		}

		c.handle(ctx, pc, buf[:n], from)

		if time.Since(lastPurge) > c.cfg.DedupTTL {
			c.seen.DeleteExpired()
			lastPurge = time.Now()
		}
	}
}

// Addr returns the bound address once serving
func (c *Collector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Collector) handle(ctx context.Context, pc net.PacketConn, data []byte, from net.Addr) {
	ev, err := c.Decode(data)
	if err != nil {
		c.observer.ObserveDatagram(StatusInvalid, len(data))
		c.log.Warn("dropping invalid datagram",
			logger.String("from", from.String()),
			logger.Int("bytes", len(data)),
			logger.Error(err))
		return
	}

	// Add fails when the id is already known
	if err := c.seen.Add(ev.EventID, struct{}{}, cache.DefaultExpiration); err != nil {
		c.observer.ObserveDatagram(StatusDuplicate, len(data))
		c.log.Debug("duplicate event", logger.String("event_id", ev.EventID))
		// the sender missed our ack
		c.ack(pc, ev.EventID, from)
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	start := time.Now()
	stored, err := c.store.Save(storeCtx, ev)
	c.observer.ObserveStore(stored, time.Since(start), err)
	if err != nil {
		// forget the id so a retry can be stored
		c.seen.Delete(ev.EventID)
		c.observer.ObserveDatagram(StatusFailed, len(data))
		c.log.Error("failed to store event",
			logger.String("event_id", ev.EventID),
			logger.Error(err))
		return
	}

	c.observer.ObserveDatagram(StatusAccepted, len(data))
	if top, ok := ev.Top(); ok {
		c.log.Info("event received",
			logger.String("event_id", ev.EventID),
			logger.String("node_id", ev.NodeID),
			logger.String("species", top.Species),
			logger.Float64("confidence", top.Confidence),
			logger.Int("stored", stored))
	}
	c.ack(pc, ev.EventID, from)
}

// Decode parses a JSON or msgpack event and checks the fields the store needs
func (c *Collector) Decode(data []byte) (*event.DetectionEvent, error) {
	format, ok := event.DetectFormat(data)
	if !ok {
		return nil, decodeError(errors.NewStd("payload is neither JSON nor msgpack"), "")
	}

	if format == conf.FormatJSON {
		if err := checkSchemaVersion(data); err != nil {
			return nil, decodeError(err, format)
		}
	}

	codec, err := event.NewCodec(format)
	if err != nil {
		return nil, decodeError(err, format)
	}
	var ev event.DetectionEvent
	if err := codec.Decode(data, &ev); err != nil {
		return nil, decodeError(err, format)
	}

	switch {
	case ev.SchemaVersion > event.SchemaVersion:
		return nil, decodeError(ErrUnsupportedSchema, format)
	case ev.EventID == "":
		return nil, decodeError(errors.NewStd("missing event_id"), format)
	case len(ev.Detections) == 0:
		return nil, decodeError(errors.NewStd("event has no detections"), format)
	}
	return &ev, nil
}

// checkSchemaVersion inspects a JSON payload before the full decode
func checkSchemaVersion(data []byte) error {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return err
	}
	v, err := obj.GetInt64("schema_version")
	if err != nil {
		// older nodes did not send a version
		return nil
	}
	if v > event.SchemaVersion {
		return ErrUnsupportedSchema
	}
	return nil
}

type ackMessage struct {
	Ack string `json:"ack"`
}

func (c *Collector) ack(pc net.PacketConn, eventID string, to net.Addr) {
	if !c.cfg.Ack {
		return
	}
	data, err := json.Marshal(ackMessage{Ack: eventID})
	if err != nil {
		return
	}
	if _, err := pc.WriteTo(data, to); err != nil {
		c.log.Warn("failed to send ack",
			logger.String("event_id", eventID),
			logger.String("to", to.String()),
			logger.Error(err))
	}
}

func decodeError(err error, format string) error {
	return errors.New(err).
		Component("collector").
		Category(errors.CategoryEncoding).
		Context("format", format).
		Build()
}
