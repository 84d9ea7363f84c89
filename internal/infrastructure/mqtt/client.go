package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
)

// Client is one app's connection to the Fora bus.
//
// It publishes "true" retained on the app's online topic after every
// (re)connect, leaves a will that flips it to "false", and restores its
// subscriptions when paho reconnects. Safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	// hooks guards the callbacks and logger below.
	hooks        sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Logger receives handler failures. *slog.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one inbound message. Handlers run on paho's
// goroutine and should not block for long; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker on behalf of appID and waits for the first
// connection. paho keeps reconnecting in the background afterwards.
//
// On every connection the client restores its subscriptions and publishes
// retained "true" on the presence topic. The broker publishes the retained
// "false" will when the connection drops uncleanly.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - appID: Catalog application ID, used to build the app topics
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrMissingAppID, or ErrConnectionFailed if the broker cannot
//     be reached within the connect timeout
func Connect(cfg config.MQTTConfig, appID string) (*Client, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	c := newClient(cfg, appID)
	c.options.
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(c.options)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		// Stop the retry loop started by SetConnectRetry.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%s: %w", brokerURL(cfg), err)
	}
	// The OnConnect handler may still be in flight.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, appID string) *Client {
	topics := Topics{AppID: appID}
	return &Client{
		cfg:           cfg,
		options:       clientOptions(cfg, topics),
		topics:        topics,
		subscriptions: make(map[string]subscription),
	}
}

// Topics returns the topic builder for this client's app.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Online(), c.QoS(), true, PayloadOnline)

	c.hooks.RLock()
	fn := c.onConnect
	c.hooks.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hooks.RLock()
	fn := c.onDisconnect
	c.hooks.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close marks the app offline and disconnects. Safe on a client that
// never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(c.topics.Online(), c.QoS(), true, PayloadOffline).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the connection state as last seen by paho.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect installs fn to run after every (re)connect, once the
// subscriptions are restored and presence is published.
func (c *Client) SetOnConnect(fn func()) {
	c.hooks.Lock()
	c.onConnect = fn
	c.hooks.Unlock()
}

// SetOnDisconnect installs fn to run when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.hooks.Lock()
	c.onDisconnect = fn
	c.hooks.Unlock()
}

// SetLogger installs the logger used for handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.hooks.Lock()
	c.logger = logger
	c.hooks.Unlock()
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler and logs, rather than propagates, its failures.
// A panic in one handler must not take down paho's router.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	c.hooks.RLock()
	logger := c.logger
	c.hooks.RUnlock()

	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("mqtt handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("mqtt handler failed", "topic", topic, "error", err)
	}
}
