package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/event"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/pkg/plugin"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	messages     []published
	publishErr   error
	connectErr   error
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return newToken(c.connectErr) }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newToken(c.publishErr)
	}
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return newToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func startModule(t *testing.T, settings map[string]any) (*Module, *fakeClient, *event.Bus) {
	t.Helper()
	client := &fakeClient{}
	m := New(WithClientFactory(func(o *mqtt.ClientOptions) Client {
		client.opts = o
		return client
	}))

	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	bus := event.NewBus(testutil.Logger())
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Config: config.New(v),
		Logger: testutil.Logger(),
		Bus:    bus,
	}))
	require.NoError(t, m.ValidateConfig())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, client, bus
}

func TestModule_ForwardsEvents(t *testing.T) {
	m, client, bus := startModule(t, map[string]any{
		"broker":       "tcp://broker.local:1883",
		"topic_prefix": "/home/netreach/",
		"qos":          1,
		"retained":     true,
	})
	require.NotNil(t, client.opts)
	assert.Equal(t, "netreach", client.opts.ClientID)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(context.Background(), plugin.Event{
		Topic:     "reconcile.asset.status",
		Source:    "reconcile",
		Timestamp: ts,
		Payload:   map[string]any{"asset_id": "a1", "is_online": true},
	}))

	sent := client.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "home/netreach/reconcile/asset/status", sent[0].topic)
	assert.Equal(t, byte(1), sent[0].qos)
	assert.True(t, sent[0].retained)

	var msg Message
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	assert.Equal(t, "reconcile.asset.status", msg.Topic)
	assert.Equal(t, "reconcile", msg.Source)
	assert.True(t, msg.Timestamp.Equal(ts))

	h := m.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "1", h.Details["published"])
}

func TestModule_TopicFilter(t *testing.T) {
	_, client, bus := startModule(t, map[string]any{
		"broker": "tcp://broker.local:1883",
		"topics": []string{"reconcile.asset.status"},
	})

	for _, topic := range []string{"reconcile.status", "reconcile.asset.status", "settings.changed"} {
		require.NoError(t, bus.Publish(context.Background(), plugin.Event{Topic: topic, Timestamp: time.Now()}))
	}

	sent := client.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "netreach/reconcile/asset/status", sent[0].topic)
}

func TestModule_PublishFailureDegradesHealth(t *testing.T) {
	m, client, bus := startModule(t, map[string]any{"broker": "tcp://broker.local:1883"})
	client.publishErr = errors.New("not connected")

	require.NoError(t, bus.Publish(context.Background(), plugin.Event{Topic: "reconcile.status", Timestamp: time.Now()}))

	h := m.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "not connected", h.Message)
	assert.Equal(t, "1", h.Details["failed"])
}

func TestModule_DisabledWithoutBroker(t *testing.T) {
	m, client, bus := startModule(t, nil)
	require.NoError(t, bus.Publish(context.Background(), plugin.Event{Topic: "reconcile.status"}))

	assert.Nil(t, client.opts, "no client is created")
	assert.Equal(t, "disabled", m.Health(context.Background()).Message)
}

func TestModule_StopDisconnects(t *testing.T) {
	m, client, _ := startModule(t, map[string]any{"broker": "tcp://broker.local:1883"})
	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, client.disconnected)
}

func TestModule_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty broker", Config{}, false},
		{"tcp", Config{Broker: "tcp://10.0.0.5:1883"}, false},
		{"websocket", Config{Broker: "wss://mqtt.example.com/mqtt"}, false},
		{"bad scheme", Config{Broker: "http://10.0.0.5"}, true},
		{"no host", Config{Broker: "tcp://"}, true},
		{"bad qos", Config{Broker: "tcp://10.0.0.5:1883", QoS: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.cfg = tt.cfg
			err := m.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
