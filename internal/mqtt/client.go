package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/privacy"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger

	// subscriptions survive reconnects; restored in onConnect.
	subMu sync.Mutex
	subs  map[string]MessageHandler

	connects          atomic.Uint64
	connectionsLost   atomic.Uint64
	published         atomic.Uint64
	publishErrors     atomic.Uint64
	received          atomic.Uint64
	reconnectAttempts atomic.Uint64
}

// NewClient creates a new MQTT client with the provided configuration.
// Zero-valued timeouts are filled in from DefaultConfig.
func NewClient(config Config) (Client, error) {
	if strings.TrimSpace(config.Broker) == "" {
		return nil, fmt.Errorf("broker address is required")
	}

	defaults := DefaultConfig()
	if config.ClientID == "" {
		config.ClientID = defaults.ClientID
	}
	if config.ReconnectCooldown <= 0 {
		config.ReconnectCooldown = defaults.ReconnectCooldown
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.DisconnectTimeout <= 0 {
		config.DisconnectTimeout = defaults.DisconnectTimeout
	}
	if config.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS level %d, must be 0, 1 or 2", config.QoS)
	}

	return &client{
		config:        config,
		reconnectStop: make(chan struct{}),
		subs:          make(map[string]MessageHandler),
		logger:        getLoggerSafe().With("broker", privacy.SanitizeBrokerURL(config.Broker)),
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < c.config.ReconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt))
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	host := u.Hostname()

	// Hostnames are resolved up front so DNS failures surface as
	// *net.DNSError instead of an opaque paho connect error.
	if net.ParseIP(host) == nil {
		_, err = net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			if dnsErr, ok := err.(*net.DNSError); ok {
				return dnsErr
			}
			return fmt.Errorf("failed to resolve hostname %s: %w", host, err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	// Reconnects are driven by our own backoff timer so subscriptions
	// can be restored in one place.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	if useTLS(u.Scheme) {
		tlsConfig, err := c.brokerTLSConfig()
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection error: %w", err)
	}

	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !token.WaitTimeout(timeout) {
		c.publishErrors.Add(1)
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.publishErrors.Add(1)
		return err
	}

	c.published.Add(1)
	c.logger.Debug("published message", "topic", topic, "size", len(payload))
	return nil
}

// Subscribe registers a handler for a topic. The subscription is restored
// after every reconnect, so calling before Connect is fine.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("subscription topic is required")
	}
	if handler == nil {
		return fmt.Errorf("subscription handler is required")
	}

	c.subMu.Lock()
	c.subs[topic] = handler
	c.subMu.Unlock()

	if c.IsConnected() {
		return c.subscribeTopic(topic, handler)
	}
	return nil
}

func (c *client) subscribeTopic(topic string, handler MessageHandler) error {
	token := c.internalClient.Subscribe(topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.received.Add(1)
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed for topic %s: %w", topic, err)
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker and stops any
// pending reconnect. Safe to call more than once.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
}

// Stats returns a snapshot of client activity counters.
func (c *client) Stats() Stats {
	return Stats{
		Connected:         c.IsConnected(),
		Connects:          c.connects.Load(),
		ConnectionsLost:   c.connectionsLost.Load(),
		Published:         c.published.Load(),
		PublishErrors:     c.publishErrors.Load(),
		Received:          c.received.Load(),
		ReconnectAttempts: c.reconnectAttempts.Load(),
	}
}

func (c *client) onConnect(_ mqtt.Client) {
	c.connects.Add(1)
	c.logger.Info("connected to MQTT broker")
	c.resubscribeAll()
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.connectionsLost.Add(1)
	c.logger.Warn("connection to MQTT broker lost", "error", err)
	c.startReconnectTimer()
}

// resubscribeAll restores every registered subscription. Called from the
// paho connect handler after each successful (re)connect.
func (c *client) resubscribeAll() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for topic, handler := range c.subs {
		if err := c.subscribeTopic(topic, handler); err != nil {
			c.logger.Error("failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

// reconnectWithBackoff retries the connection with exponential backoff
// until it succeeds or Disconnect is called.
func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		c.reconnectAttempts.Add(1)
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected to MQTT broker")
			return
		}

		c.logger.Warn("reconnect attempt failed", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}

// brokerTLSConfig builds the TLS configuration for secure broker schemes
// from certificates stored by the TLS manager.
func (c *client) brokerTLSConfig() (*tls.Config, error) {
	tlsConfig, err := conf.GetTLSManager().ClientTLSConfig("mqtt")
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS configuration: %w", err)
	}
	tlsConfig.InsecureSkipVerify = c.config.InsecureSkipVerify
	return tlsConfig, nil
}

// useTLS reports whether the broker URL scheme requires a TLS transport.
func useTLS(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "ssl", "tls", "mqtts", "tcps":
		return true
	default:
		return false
	}
}
