package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "birdnet/edge/node-1", EventTopic("birdnet/edge/", "node-1"))
	assert.Equal(t, "birdnet/node-1", EventTopic("birdnet", "node-1"))
	assert.Equal(t, "node-1", EventTopic("", "node-1"))
}

func TestMQTTTransportUnreachableBrokerIsTransient(t *testing.T) {
	t.Parallel()

	// nothing listens on port 1
	tr := NewMQTTTransport(MQTTConfig{
		Broker:         "tcp://127.0.0.1:1",
		Topic:          "birdnet",
		NodeID:         "node-1",
		ConnectTimeout: 500 * time.Millisecond,
	})
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, "mqtt", tr.Name())
	assert.Equal(t, "birdnet/node-1", tr.Topic())

	err := tr.Send(t.Context(), []byte(`{}`), "e1")
	require.ErrorIs(t, err, ErrTransient)
}
