// Package mqtt provides the shared broker client used by the outbound
// call-event publisher and the inbound MQTT event feed.
package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/carebell/carebell-go/internal/logging"
)

// getLoggerSafe returns the package logger, falling back to the default
// logger when logging has not been initialized yet.
func getLoggerSafe() *slog.Logger {
	logger := logging.ForService("mqtt")
	if logger == nil {
		logger = slog.Default().With("service", "mqtt")
	}
	return logger
}

// MessageHandler receives one inbound message for a subscribed topic.
// Handlers run on the paho router goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	// It returns an error if the publish operation fails.
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe registers a handler for a topic. The subscription is
	// restored automatically after a reconnect. Safe to call before
	// Connect; the subscription is established once connected.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()

	// Stats returns a snapshot of client activity counters.
	Stats() Stats

	// TestConnection performs a multi-stage test of the MQTT connection and functionality.
	// It streams test results through the provided channel.
	TestConnection(ctx context.Context, resultChan chan<- TestResult)
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, used by the connection test publish stage
	QoS      byte   // QoS level for publishes and subscriptions (0, 1 or 2)
	Retain   bool   // true to retain published messages at the broker

	// InsecureSkipVerify disables certificate verification for ssl://
	// and mqtts:// brokers. Self-signed setups only.
	InsecureSkipVerify bool

	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Stats is a snapshot of client activity counters.
type Stats struct {
	Connected         bool   `json:"connected"`
	Connects          uint64 `json:"connects"`
	ConnectionsLost   uint64 `json:"connections_lost"`
	Published         uint64 `json:"published"`
	PublishErrors     uint64 `json:"publish_errors"`
	Received          uint64 `json:"received"`
	ReconnectAttempts uint64 `json:"reconnect_attempts"`
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ClientID:          "carebell-go",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
