package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/mqtt"
)

// fakeBrokerClient satisfies mqtt.Client for source tests. Connect
// fails failuresLeft times before succeeding.
type fakeBrokerClient struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	failuresLeft int
	subTopic     string
	handler      mqtt.MessageHandler
}

func (f *fakeBrokerClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("connection refused")
	}
	f.connected = true
	return nil
}

func (f *fakeBrokerClient) Publish(context.Context, string, string) error { return nil }

func (f *fakeBrokerClient) Subscribe(topic string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subTopic = topic
	f.handler = handler
	return nil
}

func (f *fakeBrokerClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBrokerClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBrokerClient) Stats() mqtt.Stats {
	return mqtt.Stats{Connected: f.IsConnected()}
}

func (f *fakeBrokerClient) TestConnection(context.Context, chan<- mqtt.TestResult) {}

func (f *fakeBrokerClient) deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

func (f *fakeBrokerClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

var _ mqtt.Client = (*fakeBrokerClient)(nil)

func TestMQTTSourceSubscribesAndDelivers(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	fc := &fakeBrokerClient{}
	source := newMQTTSource(fc, "carebell/events", bus)
	require.NoError(t, source.Start())
	t.Cleanup(source.Stop)

	require.Eventually(t, fc.IsConnected, time.Second, 10*time.Millisecond)
	assert.Equal(t, "carebell/events", fc.subTopic)

	fc.deliver("carebell/events", []byte(`{"type":"nurse-call","code":"101","files":["nc.wav"]}`))

	require.Eventually(t, func() bool {
		return bus.count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, events.CallTypeTrigger, bus.all()[0].GetType())
	assert.Equal(t, "mqtt-feed", bus.all()[0].GetSource())

	stats := source.Stats()
	assert.Equal(t, uint64(1), stats.Lines)
	assert.Equal(t, uint64(1), stats.Published)
}

func TestMQTTSourceSplitsBatchedPayload(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	fc := &fakeBrokerClient{}
	source := newMQTTSource(fc, "carebell/events", bus)
	require.NoError(t, source.Start())
	t.Cleanup(source.Stop)

	payload := `{"type":"nurse-call","code":"101","files":["nc.wav"]}` + "\n" +
		"\n" +
		`{"type":"nurse-call-response","code":"901"}`
	fc.deliver("carebell/events", []byte(payload))

	require.Eventually(t, func() bool {
		return bus.count() == 2
	}, time.Second, 10*time.Millisecond)

	got := bus.all()
	assert.Equal(t, events.CallTypeTrigger, got[0].GetType())
	assert.Equal(t, events.CallTypeResponse, got[1].GetType())
	assert.Equal(t, "101", got[1].GetCode())
}

func TestMQTTSourceRetriesUntilConnected(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	fc := &fakeBrokerClient{failuresLeft: 2}
	source := newMQTTSource(fc, "carebell/events", bus)
	source.backoff = 5 * time.Millisecond
	require.NoError(t, source.Start())
	t.Cleanup(source.Stop)

	require.Eventually(t, fc.IsConnected, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, fc.calls(), 3)
}

func TestMQTTSourceStopDuringRetry(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	fc := &fakeBrokerClient{failuresLeft: 1 << 30}
	source := newMQTTSource(fc, "carebell/events", bus)
	require.NoError(t, source.Start())

	done := make(chan struct{})
	go func() {
		source.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not end the connect loop")
	}
}

func TestNewMQTTSourceValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTSource(conf.MQTTFeedSettings{Broker: "tcp://localhost:1883"}, &fakeBus{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic is required")

	_, err = NewMQTTSource(conf.MQTTFeedSettings{Topic: "carebell/events"}, &fakeBus{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker address is required")

	source, err := NewMQTTSource(conf.MQTTFeedSettings{
		Broker: "tcp://localhost:1883",
		Topic:  "carebell/events",
	}, &fakeBus{})
	require.NoError(t, err)
	require.NotNil(t, source)
}
