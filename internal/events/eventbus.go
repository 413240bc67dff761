package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// EventBus provides asynchronous event processing with non-blocking
// guarantees. Error events fan out to every registered consumer on a worker
// pool; call events are consumed by exactly one dispatcher worker so that
// trigger/response handling for the same code can never interleave.
type EventBus struct {
	// Channels for events
	errorEventChan chan ErrorEvent
	callEventChan  chan CallEvent

	// Configuration
	bufferSize int
	workers    int

	// State management
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	initialized atomic.Bool
	running     atomic.Bool
	mu          sync.Mutex

	// Consumers
	consumers     []EventConsumer
	callConsumers []CallEventConsumer

	// Duplicate suppression for error events
	deduplicator *ErrorDeduplicator

	// Metrics
	stats EventBusStats

	// Logging
	logger    *slog.Logger
	startTime time.Time
	config    *Config
}

// ErrEventBusDisabled is returned by Initialize when the configuration
// disables the bus.
var ErrEventBusDisabled = errors.NewStd("event bus disabled")

// Global event bus instance (lazily initialized)
var (
	globalEventBus *EventBus
	globalMutex    sync.Mutex

	// Fast-path flag so error producers can skip building events entirely
	// when nothing consumes them.
	hasActiveConsumers atomic.Bool
)

// Config holds event bus configuration
type Config struct {
	BufferSize    int
	Workers       int
	Enabled       bool
	Deduplication *DeduplicationConfig
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    1024,
		Workers:       2,
		Enabled:       true,
		Deduplication: DefaultDeduplicationConfig(),
	}
}

// Initialize creates or returns the global event bus instance
func Initialize(config *Config) (*EventBus, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	// Return existing instance if already initialized
	if globalEventBus != nil {
		return globalEventBus, nil
	}

	// Use default config if none provided
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return nil, ErrEventBusDisabled
	}

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := logging.ForService("events")
	if logger == nil {
		logger = slog.Default()
	}

	eb := &EventBus{
		errorEventChan: make(chan ErrorEvent, config.BufferSize),
		callEventChan:  make(chan CallEvent, config.BufferSize),
		bufferSize:     config.BufferSize,
		workers:        config.Workers,
		ctx:            ctx,
		cancel:         cancel,
		consumers:      make([]EventConsumer, 0),
		callConsumers:  make([]CallEventConsumer, 0),
		deduplicator:   NewErrorDeduplicator(config.Deduplication, logger),
		logger:         logger,
		startTime:      time.Now(),
		config:         config,
	}

	eb.initialized.Store(true)
	globalEventBus = eb

	eb.logger.Info("event bus initialized",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
	)

	return eb, nil
}

// GetEventBus returns the global event bus instance
func GetEventBus() *EventBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus
}

// IsInitialized returns true if the event bus has been initialized
func IsInitialized() bool {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus != nil && globalEventBus.initialized.Load()
}

// HasActiveConsumers reports whether any error-event consumer is registered.
// Producers use this as a cheap guard before doing event construction work.
func HasActiveConsumers() bool {
	return hasActiveConsumers.Load()
}

// ResetForTesting clears the global instance and fast-path state so tests can
// initialize a fresh bus.
func ResetForTesting() {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalEventBus != nil {
		if globalEventBus.running.Load() {
			_ = globalEventBus.Shutdown(100 * time.Millisecond)
		} else {
			globalEventBus.cancel()
			globalEventBus.deduplicator.Shutdown()
		}
	}

	globalEventBus = nil
	hasActiveConsumers.Store(false)
	errors.SetEventPublisher(nil)
}

// RegisterConsumer adds a new error-event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return errors.NewStd("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	// Check for duplicate
	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	hasActiveConsumers.Store(true)

	eb.logger.Info("registered error event consumer",
		"consumer", consumer.Name(),
		"supports_batching", consumer.SupportsBatching(),
	)

	if !eb.running.Load() {
		eb.start()
	}

	return nil
}

// RegisterCallConsumer adds a consumer to the sequential call-event stream
func (eb *EventBus) RegisterCallConsumer(consumer CallEventConsumer) error {
	if eb == nil {
		return errors.NewStd("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.callConsumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("call consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.callConsumers = append(eb.callConsumers, consumer)

	eb.logger.Info("registered call event consumer", "consumer", consumer.Name())

	if !eb.running.Load() {
		eb.start()
	}

	return nil
}

// TryPublish attempts to publish an error event without blocking.
// Returns true if the event was accepted or suppressed as a duplicate,
// false if it was dropped.
func (eb *EventBus) TryPublish(event ErrorEvent) bool {
	if eb == nil || !eb.initialized.Load() || !eb.running.Load() {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.consumers) > 0
	eb.mu.Unlock()

	if !hasConsumers {
		atomic.AddUint64(&eb.stats.FastPathHits, 1)
		return false
	}

	// Suppress duplicates before they occupy buffer space
	if eb.deduplicator != nil && !eb.deduplicator.ShouldProcess(event) {
		atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
		return true
	}

	// Non-blocking send
	select {
	case eb.errorEventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		// Channel full, drop the event
		atomic.AddUint64(&eb.stats.EventsDropped, 1)

		// Log at debug level to avoid spam
		if eb.logger != nil {
			eb.logger.Debug("error event dropped due to full buffer",
				"component", event.GetComponent(),
				"category", event.GetCategory(),
			)
		}
		return false
	}
}

// TryPublishCall attempts to publish a call event without blocking.
// Feed transports use this so a stalled dispatcher can never back-pressure a
// transport; drops are counted and surface in stats.
func (eb *EventBus) TryPublishCall(event CallEvent) bool {
	if eb == nil || !eb.initialized.Load() || !eb.running.Load() {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.callConsumers) > 0
	eb.mu.Unlock()

	if !hasConsumers {
		return false
	}

	select {
	case eb.callEventChan <- event:
		atomic.AddUint64(&eb.stats.CallEventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.CallEventsDropped, 1)

		// Dropping a hardware event is operator-relevant, unlike error spam
		if eb.logger != nil {
			eb.logger.Warn("call event dropped due to full buffer",
				"type", event.GetType(),
				"code", event.GetCode(),
				"source", event.GetSource(),
			)
		}
		return false
	}
}

// start begins the worker goroutines
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return // Already running
	}

	eb.logger.Info("starting event bus workers", "error_workers", eb.workers)

	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}

	// Exactly one dispatcher keeps call handling strictly ordered
	eb.wg.Add(1)
	go eb.dispatcher()
}

// worker processes error events from the channel
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			eb.drainErrorEvents(logger)
			logger.Debug("worker stopping due to context cancellation")
			return

		case event, ok := <-eb.errorEventChan:
			if !ok {
				logger.Debug("worker stopping due to channel closure")
				return
			}

			eb.processEvent(event, logger)
		}
	}
}

// drainErrorEvents processes error events still buffered at shutdown.
// Publication stops before the context is cancelled, so the buffer can only
// shrink here; the shutdown timeout bounds the whole drain.
func (eb *EventBus) drainErrorEvents(logger *slog.Logger) {
	for {
		select {
		case event := <-eb.errorEventChan:
			eb.processEvent(event, logger)
		default:
			return
		}
	}
}

// dispatcher processes call events one at a time in arrival order
func (eb *EventBus) dispatcher() {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", "call-dispatcher")
	logger.Debug("call dispatcher started")

	for {
		select {
		case <-eb.ctx.Done():
			eb.drainCallEvents(logger)
			logger.Debug("dispatcher stopping due to context cancellation")
			return

		case event, ok := <-eb.callEventChan:
			if !ok {
				logger.Debug("dispatcher stopping due to channel closure")
				return
			}

			eb.processCallEvent(event, logger)
		}
	}
}

// drainCallEvents processes call events still buffered at shutdown. A call
// accepted into the buffer is a commitment to the resident; it must not be
// abandoned just because cancellation won the race against the channel read.
func (eb *EventBus) drainCallEvents(logger *slog.Logger) {
	for {
		select {
		case event := <-eb.callEventChan:
			eb.processCallEvent(event, logger)
		default:
			return
		}
	}
}

// processEvent sends the error event to all registered consumers
func (eb *EventBus) processEvent(event ErrorEvent, logger *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		// Process in a recovery wrapper to prevent panics
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					logger.Error("consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"component", event.GetComponent(),
						"category", event.GetCategory(),
					)
				}
			}()

			err := consumer.ProcessEvent(event)
			if err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				logger.Error("consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"component", event.GetComponent(),
					"category", event.GetCategory(),
				)
			} else {
				atomic.AddUint64(&eb.stats.EventsProcessed, 1)
			}
		}()
	}
}

// processCallEvent runs the call event through every call consumer, in
// registration order, each to completion
func (eb *EventBus) processCallEvent(event CallEvent, logger *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]CallEventConsumer, len(eb.callConsumers))
	copy(consumers, eb.callConsumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					logger.Error("call consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"type", event.GetType(),
						"code", event.GetCode(),
					)
				}
			}()

			err := consumer.ProcessCallEvent(event)
			if err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				logger.Error("call consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"type", event.GetType(),
					"code", event.GetCode(),
				)
			} else {
				atomic.AddUint64(&eb.stats.CallEventsProcessed, 1)
			}
		}()
	}
}

// Shutdown gracefully shuts down the event bus
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.initialized.Load() {
		return nil
	}

	eb.logger.Info("shutting down event bus",
		"timeout", timeout,
		"uptime", time.Since(eb.startTime),
	)

	// Stop accepting new events
	eb.running.Store(false)

	// Cancel context to signal workers
	eb.cancel()

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.deduplicator.Shutdown()
		eb.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded")
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:      atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsSuppressed:    atomic.LoadUint64(&eb.stats.EventsSuppressed),
		EventsProcessed:     atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:       atomic.LoadUint64(&eb.stats.EventsDropped),
		CallEventsReceived:  atomic.LoadUint64(&eb.stats.CallEventsReceived),
		CallEventsProcessed: atomic.LoadUint64(&eb.stats.CallEventsProcessed),
		CallEventsDropped:   atomic.LoadUint64(&eb.stats.CallEventsDropped),
		ConsumerErrors:      atomic.LoadUint64(&eb.stats.ConsumerErrors),
		FastPathHits:        atomic.LoadUint64(&eb.stats.FastPathHits),
	}
}

// GetDeduplicationStats returns duplicate-suppression statistics
func (eb *EventBus) GetDeduplicationStats() DeduplicationStats {
	if eb == nil {
		return DeduplicationStats{}
	}
	return eb.deduplicator.GetStats()
}
