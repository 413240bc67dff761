package notification

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/logging"
)

// getLoggerSafe returns a logger for the service, falling back to default if logging not initialized
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}

// Circuit breaker state string representations.
const (
	circuitStateClosed   = "closed"
	circuitStateHalfOpen = "half-open"
	circuitStateOpen     = "open"
)

// maxMessageLength caps notification messages built from error events
const maxMessageLength = 500

// NotificationWorker implements events.EventConsumer and turns error events
// that warrant operator attention into notifications. Low priority errors
// stay in the logs.
type NotificationWorker struct {
	service        *Service
	config         *WorkerConfig
	circuitBreaker *CircuitBreaker

	eventsProcessed atomic.Uint64
	eventsDropped   atomic.Uint64
	eventsFailed    atomic.Uint64

	logger *slog.Logger
}

// WorkerConfig holds configuration for the notification worker
type WorkerConfig struct {
	// BatchingEnabled enables batch processing of notifications
	BatchingEnabled bool
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing again
	RecoveryTimeout time.Duration
	// HalfOpenMaxEvents is how many probe events the half-open circuit admits
	HalfOpenMaxEvents int
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		BatchingEnabled:   false,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxEvents: 3,
	}
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(service *Service, config *WorkerConfig) (*NotificationWorker, error) {
	if service == nil {
		return nil, errors.Newf("notification service is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	if config == nil {
		config = DefaultWorkerConfig()
	}

	return &NotificationWorker{
		service: service,
		config:  config,
		circuitBreaker: &CircuitBreaker{
			state:  circuitStateClosed,
			config: config,
		},
		logger: getLoggerSafe("notification-worker"),
	}, nil
}

var _ events.EventConsumer = (*NotificationWorker)(nil)

// Name returns the consumer name
func (w *NotificationWorker) Name() string {
	return "notification-worker"
}

// ProcessEvent processes a single error event
func (w *NotificationWorker) ProcessEvent(event events.ErrorEvent) error {
	if !w.circuitBreaker.Allow() {
		w.eventsDropped.Add(1)
		w.logger.Debug("circuit breaker open, dropping event",
			"component", event.GetComponent(),
			"category", event.GetCategory())
		return nil
	}

	notification := w.buildNotification(event)
	if notification == nil {
		w.logger.Debug("skipping low priority error event",
			"component", event.GetComponent(),
			"category", event.GetCategory())
		return nil
	}

	if _, err := w.service.create(notification); err != nil {
		if errors.IsCategory(err, errors.CategoryLimit) {
			// Rate limiting is expected under error storms, not a worker failure.
			w.eventsDropped.Add(1)
			return nil
		}

		w.eventsFailed.Add(1)
		w.circuitBreaker.RecordFailure()
		w.logger.Error("failed to create notification",
			"error", err,
			"component", event.GetComponent(),
			"category", event.GetCategory())
		return err
	}

	w.eventsProcessed.Add(1)
	w.circuitBreaker.RecordSuccess()
	return nil
}

// buildNotification maps an error event to a notification, or nil when the
// event does not warrant one.
func (w *NotificationWorker) buildNotification(event events.ErrorEvent) *Notification {
	if isPlaybackBlockedEvent(event) {
		// Persistent prompt per the unlock flow: no expiry, dismissed by the
		// next unlock gesture. Repeats coalesce in the service dedup window.
		return NewNotification(TypeWarning, PriorityHigh, "Audio Playback Locked", truncateMessage(event.GetMessage())).
			WithComponent(event.GetComponent()).
			WithMetadata(MetadataKeyPlaybackBlocked, true)
	}

	priority := notificationPriority(event.GetCategory())
	if priority != PriorityHigh && priority != PriorityCritical {
		return nil
	}

	notification := NewNotification(TypeError, priority, eventTitle(event, priority), truncateMessage(event.GetMessage())).
		WithComponent(event.GetComponent())
	for k, v := range event.GetContext() {
		notification.WithMetadata(k, v)
	}
	if priority != PriorityCritical {
		notification.WithExpiry(24 * time.Hour)
	}
	return notification
}

// ProcessBatch processes multiple events at once
func (w *NotificationWorker) ProcessBatch(errorEvents []events.ErrorEvent) error {
	var lastErr error
	for _, event := range errorEvents {
		if err := w.ProcessEvent(event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SupportsBatching returns true if this consumer supports batch processing
func (w *NotificationWorker) SupportsBatching() bool {
	return w.config.BatchingEnabled
}

// isPlaybackBlockedEvent recognizes the announcer's locked-playback error.
func isPlaybackBlockedEvent(event events.ErrorEvent) bool {
	return event.GetComponent() == "announcer" &&
		event.GetCategory() == string(errors.CategoryAudioDevice)
}

// notificationPriority maps an error category to a notification priority.
// Only high and critical produce notifications.
func notificationPriority(category string) Priority {
	switch errors.ErrorCategory(category) {
	case errors.CategorySystem:
		return PriorityCritical
	case errors.CategoryAudioDevice, errors.CategoryPlayback,
		errors.CategoryFileIO, errors.CategoryHistory, errors.CategoryBackup,
		errors.CategoryNetwork, errors.CategoryHTTP, errors.CategoryMQTTConnection:
		return PriorityHigh
	case errors.CategoryValidation, errors.CategoryNotFound, errors.CategoryLimit:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// eventTitle generates a notification title based on the event
func eventTitle(event events.ErrorEvent, priority Priority) string {
	category := event.GetCategory()
	component := event.GetComponent()

	switch priority {
	case PriorityCritical:
		return fmt.Sprintf("Critical %s Error in %s", category, component)
	case PriorityHigh:
		return fmt.Sprintf("%s Error in %s", category, component)
	default:
		return fmt.Sprintf("%s Issue", component)
	}
}

// truncateMessage caps very long error messages
func truncateMessage(message string) string {
	if len(message) > maxMessageLength {
		return message[:maxMessageLength-3] + "..."
	}
	return message
}

// GetStats returns worker statistics
func (w *NotificationWorker) GetStats() WorkerStats {
	return WorkerStats{
		EventsProcessed: w.eventsProcessed.Load(),
		EventsDropped:   w.eventsDropped.Load(),
		EventsFailed:    w.eventsFailed.Load(),
		CircuitState:    w.circuitBreaker.State(),
	}
}

// WorkerStats contains runtime statistics
type WorkerStats struct {
	EventsProcessed uint64 `json:"events_processed"`
	EventsDropped   uint64 `json:"events_dropped"`
	EventsFailed    uint64 `json:"events_failed"`
	CircuitState    string `json:"circuit_state"`
}

// CircuitBreaker guards notification creation so a persistently failing
// store cannot burn the worker on every event.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           string
	failures        int
	lastFailureTime time.Time
	successCount    int
	config          *WorkerConfig
}

// Allow checks if the circuit allows the operation
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitStateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.RecoveryTimeout {
			cb.state = circuitStateHalfOpen
			cb.successCount = 0
			return true
		}
		return false

	case circuitStateHalfOpen:
		return cb.successCount < cb.config.HalfOpenMaxEvents

	default:
		return true
	}
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == circuitStateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.HalfOpenMaxEvents {
			cb.state = circuitStateClosed
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.failures >= cb.config.FailureThreshold || cb.state == circuitStateHalfOpen {
		cb.state = circuitStateOpen
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = circuitStateClosed
	cb.failures = 0
	cb.successCount = 0
}
