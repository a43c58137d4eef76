package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// MQTTConfig configures the MQTT transport
type MQTTConfig struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string // prefix, the node id is appended
	NodeID         string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
}

// MQTTTransport publishes events to <topic>/<node_id>
type MQTTTransport struct {
	cfg    MQTTConfig
	topic  string
	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTTransport creates a transport. The broker connection is established
// on first send and kept alive by the client afterwards.
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	t := &MQTTTransport{
		cfg:   cfg,
		topic: EventTopic(cfg.Topic, cfg.NodeID),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("birdnet-edge-" + cfg.NodeID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		GetLogger().Info("connected to MQTT broker", logger.String("broker", logger.RedactEndpoint(cfg.Broker)))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		GetLogger().Warn("connection to MQTT broker lost",
			logger.String("broker", logger.RedactEndpoint(cfg.Broker)),
			logger.Error(err))
	})
	t.client = mqtt.NewClient(opts)
	return t
}

// EventTopic joins prefix and node id with a single slash
func EventTopic(prefix, nodeID string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return nodeID
	}
	return prefix + "/" + nodeID
}

// Name implements Transport
func (t *MQTTTransport) Name() string { return "mqtt" }

// Topic returns the publish topic
func (t *MQTTTransport) Topic() string { return t.topic }

// Send implements Transport
func (t *MQTTTransport) Send(ctx context.Context, payload []byte, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.client.IsConnectionOpen() {
		token := t.client.Connect()
		if !waitToken(ctx, token, t.cfg.ConnectTimeout) {
			return Transient(t.networkError(errors.NewStd("connection timeout"), eventID))
		}
		if err := token.Error(); err != nil {
			return Transient(t.networkError(err, eventID))
		}
	}

	token := t.client.Publish(t.topic, t.cfg.QoS, t.cfg.Retain, payload)
	if !waitToken(ctx, token, t.cfg.ConnectTimeout) {
		return Transient(t.networkError(errors.NewStd("publish timeout"), eventID))
	}
	if err := token.Error(); err != nil {
		return Transient(t.networkError(err, eventID))
	}
	return nil
}

// waitToken waits for token, the timeout or ctx, whichever comes first
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *MQTTTransport) networkError(err error, eventID string) error {
	return errors.New(err).
		Component("dispatch").
		Category(errors.CategoryMQTTPublish).
		Context("broker", logger.RedactEndpoint(t.cfg.Broker)).
		Context("topic", t.topic).
		Context("event_id", eventID).
		Build()
}

// Close implements Transport
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}
