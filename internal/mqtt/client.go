package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/thane-cortex/internal/config"
)

// Publisher sends a payload to a topic. *Client implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Subscriber registers a handler for a topic filter and returns a
// function that removes it. *Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, h Handler) (func(), error)
}

// ErrNotStarted is returned by calls that need the connection before
// [Client.Start] has created it.
var ErrNotStarted = errors.New("mqtt client not started")

// Client is the shared broker connection.
type Client struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	router     router

	ready chan struct{}
	cm    *autopaho.ConnectionManager
}

// New creates a client but does not connect. Call [Client.Start].
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "cortex"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cortex-" + instanceID
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30
	}
	return &Client{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger.With("component", "mqtt"),
		ready:      make(chan struct{}),
	}
}

// InstanceID returns the runtime's persistent identifier.
func (c *Client) InstanceID() string { return c.instanceID }

// Topic joins suffix onto the configured base topic.
func (c *Client) Topic(suffix string) string {
	return c.cfg.BaseTopic + "/" + strings.TrimPrefix(suffix, "/")
}

func (c *Client) availabilityTopic() string { return c.Topic("availability") }

// Start connects to the broker and keeps the connection up until ctx
// is cancelled, then publishes "offline" and disconnects. On every
// (re-)connect it publishes "online" and restores subscriptions.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       uint16(c.cfg.KeepAlive),
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   c.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker)
			c.publishAvailability(ctx, cm, "online")
			c.resubscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					n := c.router.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return n > 0, nil
				},
			},
			OnClientError: func(err error) {
				c.logger.Warn("mqtt client error", "error", err)
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm
	close(c.ready)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.publishAvailability(stopCtx, cm, "offline")
	if err := cm.Disconnect(stopCtx); err != nil {
		c.logger.Debug("mqtt disconnect", "error", err)
	}
	<-cm.Done()
	return nil
}

// connection waits for Start to create the connection manager.
func (c *Client) connection(ctx context.Context) (*autopaho.ConnectionManager, error) {
	select {
	case <-c.ready:
		return c.cm, nil
	case <-ctx.Done():
		return nil, ErrNotStarted
	}
}

func (c *Client) started() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It serves as the connwatch probe for the broker.
func (c *Client) AwaitConnection(ctx context.Context) error {
	cm, err := c.connection(ctx)
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

// Publish sends payload to topic at QoS 1, waiting for the connection
// if it is down.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	cm, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe routes messages matching filter to h and subscribes on the
// broker. The returned function removes h and unsubscribes once no
// handler uses the filter.
func (c *Client) Subscribe(ctx context.Context, filter string, h Handler) (func(), error) {
	id := c.router.add(filter, h)
	unsubscribe := func() {
		f, inUse := c.router.remove(id)
		if inUse || !c.started() {
			return
		}
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.cm.Unsubscribe(uctx, &paho.Unsubscribe{Topics: []string{f}}); err != nil {
			c.logger.Debug("mqtt unsubscribe failed", "filter", f, "error", err)
		}
	}

	cm, err := c.connection(ctx)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
	}); err != nil {
		unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.logger.Debug("mqtt subscribed", "filter", filter)
	return unsubscribe, nil
}

func (c *Client) resubscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	filters := c.router.filters()
	if len(filters) == 0 {
		return
	}
	opts := make([]paho.SubscribeOptions, 0, len(filters))
	for _, f := range filters {
		opts = append(opts, paho.SubscribeOptions{Topic: f, QoS: 1})
	}
	// OnConnectionUp runs on the connection goroutine; subscribing has to
	// wait for the broker's SUBACK, so it happens on its own goroutine.
	go func() {
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
			c.logger.Warn("mqtt resubscribe failed", "filters", len(opts), "error", err)
		}
	}()
}

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	c.logger.Info("mqtt availability published", "status", status)
}
