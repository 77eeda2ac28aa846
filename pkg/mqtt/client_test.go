package mqtt

import (
	"sync"
	"sync/atomic"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineClient builds a Client around a paho client that never dials.
func offlineClient() *Client {
	return &Client{
		client:        pahomqtt.NewClient(pahomqtt.NewClientOptions()),
		cfg:           Config{Host: "localhost"}.WithDefaults(),
		subscriptions: make(map[string]subscription),
	}
}

func TestClient_SetOnConnectDuringReconnect(t *testing.T) {
	c := offlineClient()

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SetOnConnect(func() { calls.Add(1) })
		}()
		go func() {
			defer wg.Done()
			c.handleConnect()
		}()
	}
	wg.Wait()

	before := calls.Load()
	c.handleConnect()
	assert.Equal(t, before+1, calls.Load())
}

func TestClient_UnsubscribeForgetsTopic(t *testing.T) {
	c := offlineClient()
	noop := func(string, []byte) error { return nil }
	c.subscriptions["ambisense/kitchen/+/set"] = subscription{topic: "ambisense/kitchen/+/set", handler: noop}
	c.subscriptions["ambisense/office/+/set"] = subscription{topic: "ambisense/office/+/set", handler: noop}

	require.NoError(t, c.Unsubscribe("ambisense/kitchen/+/set"))
	assert.NotContains(t, c.subscriptions, "ambisense/kitchen/+/set")
	assert.Contains(t, c.subscriptions, "ambisense/office/+/set")

	assert.ErrorIs(t, c.Unsubscribe(""), ErrInvalidTopic)
}
