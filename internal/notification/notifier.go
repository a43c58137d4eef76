// Package notification sends operator alerts through shoutrrr service URLs
// when the node fails in ways nobody watching the logs would notice.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/dispatch"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/inference"
	"github.com/tphakala/birdnet-edge/internal/logger"
	"github.com/tphakala/birdnet-edge/internal/pipeline"
)

// Kind groups notifications for cooldown
type Kind string

const (
	KindDeviceFailure Kind = "device_failure"
	KindModelFailure  Kind = "model_failure"
	KindDeliveryLoss  Kind = "delivery_loss"
	KindNodeFailure   Kind = "node_failure"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultCooldown         = 15 * time.Minute
	defaultAbandonWindow    = 5 * time.Minute
	defaultAbandonThreshold = 10
	queueSize               = 8
)

// Notification is one alert
type Notification struct {
	Kind    Kind
	Title   string
	Message string
}

// sender is satisfied by *router.ServiceRouter
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Config controls delivery and alert thresholds
type Config struct {
	NodeID           string
	URLs             []string
	Timeout          time.Duration // per send
	Cooldown         time.Duration // minimum gap between alerts of one kind
	AbandonThreshold int           // abandoned events within AbandonWindow that raise an alert
	AbandonWindow    time.Duration
}

// ConfigFromSettings maps the notification settings section
func ConfigFromSettings(settings *conf.Settings) Config {
	n := &settings.Notification
	return Config{
		NodeID:           settings.Node.ID,
		URLs:             slices.Clone(n.URLs),
		Timeout:          n.Timeout,
		Cooldown:         n.Cooldown,
		AbandonThreshold: n.AbandonThreshold,
		AbandonWindow:    n.AbandonWindow,
	}
}

// Notifier sends alerts and watches delivery results for bursts of abandoned events.
// It implements dispatch.Observer.
type Notifier struct {
	cfg    Config
	sender sender
	queue  chan Notification
	now    func() time.Time
	log    logger.Logger

	mu        sync.Mutex
	lastSent  map[Kind]time.Time
	abandoned []time.Time
}

// New validates the service URLs and creates a notifier
func New(cfg Config) (*Notifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	router.Timeout = cfg.Timeout
	router.SetLogger(log.New(io.Discard, "", 0))

	GetLogger().Info("notifications enabled", logger.Int("services", len(cfg.URLs)))
	return newNotifier(cfg, router), nil
}

func newNotifier(cfg Config, s sender) *Notifier {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.AbandonWindow <= 0 {
		cfg.AbandonWindow = defaultAbandonWindow
	}
	if cfg.AbandonThreshold <= 0 {
		cfg.AbandonThreshold = defaultAbandonThreshold
	}
	return &Notifier{
		cfg:      cfg,
		sender:   s,
		queue:    make(chan Notification, queueSize),
		now:      time.Now,
		log:      GetLogger(),
		lastSent: make(map[Kind]time.Time),
	}
}

// Notify sends msg unless an alert of the same kind went out within the cooldown.
// It returns nil when the alert is suppressed.
func (n *Notifier) Notify(ctx context.Context, msg Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastSent[msg.Kind]; ok && now.Sub(last) < n.cfg.Cooldown {
		n.mu.Unlock()
		n.log.Debug("notification suppressed", logger.String("kind", string(msg.Kind)))
		return nil
	}
	n.lastSent[msg.Kind] = now
	n.mu.Unlock()

	params := stypes.Params{}
	params.SetTitle(n.title(msg.Title))

	// the router applies its own timeout
	for _, err := range n.sender.Send(msg.Message, &params) {
		if err == nil {
			continue
		}
		return errors.Newf("notification failed: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("kind", string(msg.Kind)).
			Build()
	}

	n.log.Info("notification sent",
		logger.String("kind", string(msg.Kind)),
		logger.String("title", msg.Title))
	return nil
}

func (n *Notifier) title(t string) string {
	if n.cfg.NodeID == "" {
		return t
	}
	return fmt.Sprintf("[%s] %s", n.cfg.NodeID, t)
}

// Run sends queued alerts until ctx is cancelled
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			if err := n.Notify(ctx, msg); err != nil && ctx.Err() == nil {
				n.log.Warn("failed to send notification",
					logger.String("kind", string(msg.Kind)),
					logger.Error(err))
			}
		}
	}
}

// post queues msg for Run without blocking
func (n *Notifier) post(msg Notification) {
	select {
	case n.queue <- msg:
	default:
		n.log.Warn("notification queue full, alert dropped", logger.String("kind", string(msg.Kind)))
	}
}

// ReportFailure sends the alert for an error that stopped the node
func (n *Notifier) ReportFailure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	msg := Notification{Kind: KindNodeFailure, Title: "Node stopped", Message: err.Error()}
	switch {
	case errors.Is(err, pipeline.ErrDeviceEscalation):
		msg.Kind = KindDeviceFailure
		msg.Title = "Audio device failed"
	case errors.Is(err, inference.ErrInferenceFatal):
		msg.Kind = KindModelFailure
		msg.Title = "Bird classifier failed"
	}
	msg.Message = logger.RedactSensitiveData(msg.Message)
	return n.Notify(ctx, msg)
}

// ObserveResult counts abandoned events and raises an alert when
// AbandonThreshold of them fall within AbandonWindow. Shutdown drops are ignored.
func (n *Notifier) ObserveResult(transport string, r dispatch.Result) {
	if !r.Abandoned() || r.Reason == dispatch.ReasonShutdown {
		return
	}

	n.mu.Lock()
	now := n.now()
	cutoff := now.Add(-n.cfg.AbandonWindow)
	kept := n.abandoned[:0]
	for _, t := range n.abandoned {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	n.abandoned = append(kept, now)
	count := len(n.abandoned)
	if count < n.cfg.AbandonThreshold {
		n.mu.Unlock()
		return
	}
	n.abandoned = n.abandoned[:0]
	n.mu.Unlock()

	text := fmt.Sprintf("%d events were not delivered over %s within %s, last reason %s",
		count, transport, n.cfg.AbandonWindow, r.Reason)
	if r.LastError != nil {
		text += ": " + logger.RedactSensitiveData(r.LastError.Error())
	}
	n.post(Notification{Kind: KindDeliveryLoss, Title: "Events are being lost", Message: text})
}

func (n *Notifier) ObserveAttempt(dispatch.Attempt) {}
func (n *Notifier) ObserveQueueDepth(int)          {}
