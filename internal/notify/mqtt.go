// Package notify forwards event bus traffic to an MQTT broker so home
// automation and alerting systems can follow status changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

// Config is the "plugins.notify" section.
type Config struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	Topics         []string      `mapstructure:"topics"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Message is the JSON body published for each event.
type Message struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Client is the subset of mqtt.Client the module uses.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Module publishes bus events to MQTT.
type Module struct {
	cfg       Config
	logger    *zap.Logger
	bus       plugin.EventBus
	newClient func(opts *mqtt.ClientOptions) Client

	client      Client
	topics      map[string]bool
	unsubscribe func()

	published atomic.Int64
	failed    atomic.Int64
	lastError atomic.Value
}

// Option configures a Module.
type Option func(*Module)

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(fn func(opts *mqtt.ClientOptions) Client) Option {
	return func(m *Module) { m.newClient = fn }
}

// New creates the notify module.
func New(opts ...Option) *Module {
	m := &Module{
		logger: zap.NewNop(),
		cfg: Config{
			ClientID:       "netreach",
			TopicPrefix:    "netreach",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		newClient: func(o *mqtt.ClientOptions) Client { return mqtt.NewClient(o) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string    { return "notify" }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.bus = deps.Bus
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal notify config: %w", err)
		}
	}
	m.cfg.TopicPrefix = strings.Trim(strings.TrimSpace(m.cfg.TopicPrefix), "/")
	m.topics = make(map[string]bool, len(m.cfg.Topics))
	for _, t := range m.cfg.Topics {
		if t = strings.TrimSpace(t); t != "" {
			m.topics[t] = true
		}
	}
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if m.cfg.QoS < 0 || m.cfg.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.cfg.QoS)
	}
	if m.cfg.Broker == "" {
		return nil
	}
	u, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("broker %q has no host", m.cfg.Broker)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.Broker == "" {
		m.logger.Info("no MQTT broker configured, notifications disabled")
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			m.logger.Info("MQTT connected", zap.String("broker", m.cfg.Broker))
		})
	m.client = m.newClient(opts)

	tok := m.client.Connect()
	if !tok.WaitTimeout(m.cfg.ConnectTimeout) {
		m.logger.Warn("MQTT broker not reachable yet, retrying in background",
			zap.String("broker", m.cfg.Broker))
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("connect to MQTT broker: %w", err)
	}

	if m.bus != nil {
		m.unsubscribe = m.bus.SubscribeAll(m.forward)
	}
	m.logger.Info("notify module started",
		zap.String("broker", m.cfg.Broker),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Int("topics", len(m.topics)),
	)
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.client != nil {
		m.client.Disconnect(250)
	}
	m.logger.Info("notify module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.client == nil {
		return plugin.HealthStatus{Status: "healthy", Message: "disabled"}
	}
	h := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"published": fmt.Sprint(m.published.Load()),
			"failed":    fmt.Sprint(m.failed.Load()),
		},
	}
	if !m.client.IsConnectionOpen() {
		h.Status = "degraded"
		h.Message = "not connected to broker"
	} else if last, _ := m.lastError.Load().(string); last != "" {
		h.Status = "degraded"
		h.Message = last
	}
	return h
}

// TopicFor maps a bus topic to its MQTT topic, e.g. "reconcile.asset.status"
// becomes "netreach/reconcile/asset/status".
func (m *Module) TopicFor(busTopic string) string {
	t := strings.ReplaceAll(busTopic, ".", "/")
	if m.cfg.TopicPrefix == "" {
		return t
	}
	return m.cfg.TopicPrefix + "/" + t
}

func (m *Module) forward(_ context.Context, ev plugin.Event) {
	if len(m.topics) > 0 && !m.topics[ev.Topic] {
		return
	}
	body, err := json.Marshal(Message{
		Topic:     ev.Topic,
		Source:    ev.Source,
		Timestamp: ev.Timestamp.UTC(),
		Payload:   ev.Payload,
	})
	if err != nil {
		m.logger.Warn("encode event", zap.String("topic", ev.Topic), zap.Error(err))
		return
	}

	topic := m.TopicFor(ev.Topic)
	tok := m.client.Publish(topic, byte(m.cfg.QoS), m.cfg.Retained, body)
	if !tok.WaitTimeout(m.cfg.PublishTimeout) {
		m.fail(topic, fmt.Errorf("publish timed out after %s", m.cfg.PublishTimeout))
		return
	}
	if err := tok.Error(); err != nil {
		m.fail(topic, err)
		return
	}
	m.published.Add(1)
	m.lastError.Store("")
}

func (m *Module) fail(topic string, err error) {
	m.failed.Add(1)
	m.lastError.Store(err.Error())
	m.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
}
