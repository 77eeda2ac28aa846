package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

var (
	ErrNotConnected     = errors.New("mqtt not connected")
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishFailed    = errors.New("mqtt publish failed")
	ErrSubscribeFailed  = errors.New("mqtt subscribe failed")
	ErrInvalidTopic     = errors.New("mqtt topic is empty")
)

// Config describes a broker connection and the topic layout.
type Config struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	Username        string `json:"username,omitempty" yaml:"username"`
	Password        string `json:"-" yaml:"password"`
	ClientID        string `json:"client_id" yaml:"client_id"`
	TLS             bool   `json:"tls" yaml:"tls"`
	QoS             byte   `json:"qos" yaml:"qos"`
	DiscoveryPrefix string `json:"discovery_prefix" yaml:"discovery_prefix"`
	BaseTopic       string `json:"base_topic" yaml:"base_topic"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.ClientID == "" {
		c.ClientID = "ambisense-bridge"
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
	if c.BaseTopic == "" {
		c.BaseTopic = "ambisense"
	}
	if c.QoS > maxQoS {
		c.QoS = 1
	}
	return c
}

// MessageHandler receives a message. Errors are logged.
type MessageHandler func(topic string, payload []byte) error

// Broker is the subset of MQTT the reflector needs.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

type subscription struct {
	topic   string
	handler MessageHandler
}

// Client wraps paho.mqtt.golang with reconnects, a last will on the bridge
// status topic and subscriptions restored after reconnecting.
type Client struct {
	client pahomqtt.Client
	cfg    Config

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	onConnect func()
}

// Connect dials the broker described by cfg.
func Connect(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(StatusTopic(cfg.BaseTopic), PayloadOffline, 1, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("client_id", cfg.ClientID).Msg("Connected to MQTT broker")
	return c, nil
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, c.cfg.QoS, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(StatusTopic(c.cfg.BaseTopic), c.cfg.QoS, true, PayloadOnline)

	c.connMu.RLock()
	onConnect := c.onConnect
	c.connMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}
}

// SetOnConnect registers a callback for every (re)connect, e.g. to republish
// discovery after the broker lost its retained messages.
func (c *Client) SetOnConnect(fn func()) {
	c.connMu.Lock()
	c.onConnect = fn
	c.connMu.Unlock()
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Publish sends payload with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic; the subscription survives reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.cfg.QoS, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe drops topic so it is not restored on the next reconnect.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.forget(topic)
	if !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(StatusTopic(c.cfg.BaseTopic), c.cfg.QoS, true, PayloadOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT handler returned error")
		}
	}
}

// NullBroker is a no-op broker used when no MQTT broker is configured.
type NullBroker struct{}

// NewNullBroker creates a new NullBroker.
func NewNullBroker() *NullBroker {
	return &NullBroker{}
}

func (NullBroker) Publish(string, []byte, bool) error     { return ErrNotConnected }
func (NullBroker) Subscribe(string, MessageHandler) error { return ErrNotConnected }
func (NullBroker) Unsubscribe(string) error               { return nil }
func (NullBroker) IsConnected() bool                      { return false }
func (NullBroker) Close() error                           { return nil }
