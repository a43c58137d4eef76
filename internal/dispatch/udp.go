package dispatch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/net/ipv4"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// MaxDatagramSize is the largest UDP payload over IPv4
const MaxDatagramSize = 65507

// UDPConfig configures the datagram transport
type UDPConfig struct {
	Host       string
	Port       int
	AckEnabled bool          // wait for {"ack":"<event_id>"} after each send
	AckTimeout time.Duration // how long to wait for the ack
	DSCP       int           // DiffServ code point, 0 leaves the TOS byte alone
}

// UDPTransport sends each event as a single datagram. Without acks delivery
// is fire-and-forget: only local socket errors are reported.
type UDPTransport struct {
	cfg  UDPConfig
	addr string

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPTransport creates a transport. The socket is opened on first send so a
// collector that cannot be resolved yet only delays delivery.
func NewUDPTransport(cfg UDPConfig) *UDPTransport {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = time.Second
	}
	return &UDPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
}

// Name implements Transport
func (t *UDPTransport) Name() string { return "udp" }

// Addr returns the collector address
func (t *UDPTransport) Addr() string { return t.addr }

// Send implements Transport
func (t *UDPTransport) Send(ctx context.Context, payload []byte, eventID string) error {
	if len(payload) > MaxDatagramSize {
		return Permanent(errors.Newf("payload of %d bytes exceeds datagram limit %d", len(payload), MaxDatagramSize).
			Component("dispatch").
			Category(errors.CategoryValidation).
			Context("event_id", eventID).
			Build())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connLocked(ctx)
	if err != nil {
		return Transient(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(payload); err != nil {
		t.resetLocked()
		return Transient(errors.New(err).
			Component("dispatch").
			Category(errors.CategoryNetwork).
			NetworkContext(t.addr, 0).
			Context("event_id", eventID).
			Build())
	}

	if !t.cfg.AckEnabled {
		return nil
	}
	return t.awaitAckLocked(ctx, conn, eventID)
}

// awaitAckLocked reads datagrams until the ack for eventID arrives or the
// ack timeout expires. Acks for other events are stale and skipped.
func (t *UDPTransport) awaitAckLocked(ctx context.Context, conn *net.UDPConn, eventID string) error {
	deadline := time.Now().Add(t.cfg.AckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Transient(errors.Newf("no ack for %s within %s", eventID, t.cfg.AckTimeout).
					Component("dispatch").
					Category(errors.CategoryTimeout).
					NetworkContext(t.addr, t.cfg.AckTimeout).
					Build())
			}
			// ICMP port unreachable surfaces here as a refused connection
			t.resetLocked()
			return Transient(errors.New(err).
				Component("dispatch").
				Category(errors.CategoryNetwork).
				NetworkContext(t.addr, t.cfg.AckTimeout).
				Build())
		}

		obj, err := jason.NewObjectFromBytes(buf[:n])
		if err != nil {
			GetLogger().Debug("ignoring malformed ack", logger.Int("bytes", n))
			continue
		}
		acked, err := obj.GetString("ack")
		if err != nil {
			continue
		}
		if acked == eventID {
			return nil
		}
		GetLogger().Debug("ignoring stale ack", logger.String("ack", acked), logger.String("want", eventID))
	}
}

func (t *UDPTransport) connLocked(ctx context.Context) (*net.UDPConn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", t.addr)
	if err != nil {
		return nil, errors.New(fmt.Errorf("dial collector: %w", err)).
			Component("dispatch").
			Category(errors.CategoryNetwork).
			NetworkContext(t.addr, 0).
			Build()
	}
	conn, ok := c.(*net.UDPConn)
	if !ok {
		_ = c.Close()
		return nil, errors.Newf("unexpected connection type %T", c).
			Component("dispatch").
			Category(errors.CategoryNetwork).
			Build()
	}

	if t.cfg.DSCP > 0 {
		// DSCP occupies the upper six bits of the TOS byte
		if err := ipv4.NewConn(conn).SetTOS(t.cfg.DSCP << 2); err != nil {
			GetLogger().Warn("failed to set DSCP on dispatch socket",
				logger.Int("dscp", t.cfg.DSCP),
				logger.Error(err))
		}
	}

	t.conn = conn
	return conn, nil
}

func (t *UDPTransport) resetLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Close implements Transport
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	return nil
}
