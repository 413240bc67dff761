package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/mqtt"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttMaxBackoff     = 5 * time.Minute
)

// MQTTSource subscribes to a broker topic carrying the same JSON event
// shapes as the line feeds. Broker connectivity does not drive hardware
// connectivity; the driver's own serial events do.
type MQTTSource struct {
	client  mqtt.Client
	topic   string
	in      *ingest
	backoff time.Duration

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// NewMQTTSource creates an MQTT feed source for the given settings.
func NewMQTTSource(settings conf.MQTTFeedSettings, bus Publisher) (*MQTTSource, error) {
	topic := strings.TrimSpace(settings.Topic)
	if topic == "" {
		return nil, fmt.Errorf("event topic is required")
	}

	client, err := mqtt.NewClient(mqtt.Config{
		Broker:   settings.Broker,
		ClientID: "carebell-go-feed",
		Username: settings.Username,
		Password: settings.Password,
		Topic:    topic,
	})
	if err != nil {
		return nil, err
	}

	return newMQTTSource(client, topic, bus), nil
}

func newMQTTSource(client mqtt.Client, topic string, bus Publisher) *MQTTSource {
	return &MQTTSource{
		client:  client,
		topic:   topic,
		in:      newIngest(bus, "mqtt-feed", getLoggerSafe("mqtt-feed")),
		backoff: time.Second,
		stopCh:  make(chan struct{}),
	}
}

// Start registers the subscription and connects to the broker in the
// background, retrying with backoff until it succeeds or Stop is
// called. Connection losses after that heal inside the client.
func (s *MQTTSource) Start() error {
	if err := s.client.Subscribe(s.topic, s.handleMessage); err != nil {
		return err
	}

	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.connectLoop()
	})
	return nil
}

// Stop disconnects from the broker and ends the connect loop.
func (s *MQTTSource) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.client.Disconnect()
}

// Stats returns a snapshot of source activity counters.
func (s *MQTTSource) Stats() Stats {
	return s.in.stats()
}

// ClientStats returns the broker client counters.
func (s *MQTTSource) ClientStats() mqtt.Stats {
	return s.client.Stats()
}

// handleMessage decodes one broker message. Bridges sometimes batch
// several driver lines into a single message, so the payload is split
// on newlines.
func (s *MQTTSource) handleMessage(_ string, payload []byte) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		s.in.line(line)
	}
}

func (s *MQTTSource) connectLoop() {
	defer s.wg.Done()

	backoff := s.backoff
	for {
		ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
		err := s.client.Connect(ctx)
		cancel()

		if err == nil {
			s.in.logger.Info("subscribed to event topic", "topic", s.topic)
			return
		}

		s.in.logger.Warn("broker connection failed", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > mqttMaxBackoff {
				backoff = mqttMaxBackoff
			}
		case <-s.stopCh:
			return
		}
	}
}
