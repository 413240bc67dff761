// Package mqttpub publishes call lifecycle events and announcer status
// to an MQTT broker. Publishing is best-effort: transitions observed
// while the broker is unreachable are dropped and counted, never
// buffered across restarts.
package mqttpub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/mqtt"
	"github.com/carebell/carebell-go/internal/tracker"
)

const (
	topicCallsTriggered  = "calls/triggered"
	topicCallsCompleted  = "calls/completed"
	topicAnnouncerStatus = "announcer/status"

	defaultQueueSize      = 256
	defaultStatusInterval = time.Minute
	defaultTopicPrefix    = "carebell"

	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// message is one queued outbound publish.
type message struct {
	topic   string
	payload string
}

// Publisher forwards call transitions to an MQTT broker. It implements
// tracker.TransitionSink; sink callbacks only enqueue, a single worker
// goroutine owns the broker connection.
type Publisher struct {
	client   mqtt.Client
	prefix   string
	nodeName string
	logger   *slog.Logger

	queueSize      int
	statusInterval time.Duration
	announcerStats func() announcer.Stats

	queue  chan message
	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	enqueued      atomic.Uint64
	dropped       atomic.Uint64
	publishErrors atomic.Uint64
}

var _ tracker.TransitionSink = (*Publisher)(nil)

// Stats is a snapshot of publisher activity counters.
type Stats struct {
	QueueDepth    int        `json:"queue_depth"`
	Enqueued      uint64     `json:"enqueued"`
	Dropped       uint64     `json:"dropped"`
	PublishErrors uint64     `json:"publish_errors"`
	Client        mqtt.Stats `json:"client"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClient substitutes the broker client. Used by tests.
func WithClient(c mqtt.Client) Option {
	return func(p *Publisher) { p.client = c }
}

// WithAnnouncerStats attaches the announcer snapshot source for the
// periodic status topic.
func WithAnnouncerStats(fn func() announcer.Stats) Option {
	return func(p *Publisher) { p.announcerStats = fn }
}

// WithQueueSize overrides the outbound queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithStatusInterval overrides the announcer status publish interval.
func WithStatusInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.statusInterval = d
		}
	}
}

// New creates a publisher for the given outbound MQTT settings. The
// node name identifies this instance in published payloads.
func New(settings conf.MQTTSettings, nodeName string, opts ...Option) (*Publisher, error) {
	logger := logging.ForService("mqttpub")
	if logger == nil {
		logger = slog.Default().With("service", "mqttpub")
	}

	prefix := strings.TrimRight(strings.TrimSpace(settings.TopicPrefix), "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}

	p := &Publisher{
		prefix:         prefix,
		nodeName:       nodeName,
		logger:         logger,
		queueSize:      defaultQueueSize,
		statusInterval: defaultStatusInterval,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		clientID := "carebell-go"
		if nodeName != "" {
			clientID = nodeName
		}
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   settings.Broker,
			ClientID: clientID,
			Username: settings.Username,
			Password: settings.Password,
			Topic:    prefix,
			QoS:      settings.QoS,
			Retain:   settings.Retain,
		})
		if err != nil {
			return nil, err
		}
		p.client = client
	}

	p.queue = make(chan message, p.queueSize)
	return p, nil
}

// Start launches the publish worker. Safe to call once.
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Stop shuts the worker down and disconnects from the broker. Queued
// messages that have not been published yet are dropped.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.client.Disconnect()
	})
}

// Stats returns a snapshot of publisher activity counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		QueueDepth:    len(p.queue),
		Enqueued:      p.enqueued.Load(),
		Dropped:       p.dropped.Load(),
		PublishErrors: p.publishErrors.Load(),
		Client:        p.client.Stats(),
	}
}

// CallTriggered enqueues a trigger event. Runs on the tracker's
// dispatcher goroutine and never blocks.
func (p *Publisher) CallTriggered(call tracker.ActiveCall) {
	p.enqueue(topicCallsTriggered, callTriggeredPayload{
		Code:        call.Code,
		Room:        call.Room,
		Bed:         call.Bed,
		Display:     call.Display,
		TriggeredAt: call.TriggeredAt.UTC().Format(time.RFC3339),
		Node:        p.nodeName,
	})
}

// CallCompleted enqueues a completion event. Runs on the tracker's
// dispatcher goroutine and never blocks.
func (p *Publisher) CallCompleted(code, display string, duration time.Duration) {
	p.enqueue(topicCallsCompleted, callCompletedPayload{
		Code:        code,
		Display:     display,
		DurationSec: duration.Seconds(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
		Node:        p.nodeName,
	})
}

func (p *Publisher) enqueue(suffix string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.publishErrors.Add(1)
		p.logger.Error("failed to encode payload", "topic", suffix, "error", err)
		return
	}

	select {
	case p.queue <- message{topic: p.topic(suffix), payload: string(data)}:
		p.enqueued.Add(1)
	default:
		p.dropped.Add(1)
		p.logger.Warn("outbound queue full, dropping message", "topic", suffix)
	}
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// run owns the broker connection: it connects, drains the queue and
// publishes the periodic announcer status.
func (p *Publisher) run() {
	defer p.wg.Done()

	p.connect()

	ticker := time.NewTicker(p.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			p.publish(msg)
		case <-ticker.C:
			p.publishStatus()
		}
	}
}

// connect attempts the initial broker connection. Failures are logged
// and retried lazily on the next publish; connection losses after a
// successful connect are healed by the client itself.
func (p *Publisher) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := p.client.Connect(ctx); err != nil {
		p.logger.Warn("initial broker connection failed", "error", err)
	}
}

func (p *Publisher) publish(msg message) {
	if !p.client.IsConnected() {
		// Retry the connection; the cooldown inside the client keeps
		// this from hammering an unreachable broker.
		p.connect()
		if !p.client.IsConnected() {
			p.dropped.Add(1)
			p.logger.Debug("broker unreachable, dropping message", "topic", msg.topic)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, msg.topic, msg.payload); err != nil {
		p.publishErrors.Add(1)
		p.logger.Warn("publish failed", "topic", msg.topic, "error", err)
	}
}

func (p *Publisher) publishStatus() {
	if p.announcerStats == nil || !p.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(announcerStatusPayload{
		Stats:     p.announcerStats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Node:      p.nodeName,
	})
	if err != nil {
		p.publishErrors.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.topic(topicAnnouncerStatus), string(payload)); err != nil {
		p.publishErrors.Add(1)
		p.logger.Debug("status publish failed", "error", err)
	}
}
