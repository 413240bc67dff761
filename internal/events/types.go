// Package events provides the asynchronous event bus decoupling call handling
// from error reporting and notification delivery. Call events are consumed by
// a single dispatcher worker so handling for one code never interleaves with
// another event for the same code; error events fan out to registered
// consumers on a small worker pool.
package events

import (
	"time"
)

// ErrorEvent represents an error event that can be processed asynchronously.
// This interface allows the errors package to push events without creating
// a circular dependency.
type ErrorEvent interface {
	// GetComponent returns the component that generated the error
	GetComponent() string

	// GetCategory returns the error category for grouping
	GetCategory() string

	// GetContext returns additional context data for the error
	GetContext() map[string]any

	// GetTimestamp returns when the error occurred
	GetTimestamp() time.Time

	// GetError returns the underlying error
	GetError() error

	// GetMessage returns the error message
	GetMessage() string

	// IsReported returns whether this error has already been reported
	IsReported() bool

	// MarkReported marks the error as reported
	MarkReported()
}

// EventConsumer represents a consumer that processes error events
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single error event
	ProcessEvent(event ErrorEvent) error

	// ProcessBatch processes multiple events at once (for efficiency)
	ProcessBatch(events []ErrorEvent) error

	// SupportsBatching returns true if this consumer supports batch processing
	SupportsBatching() bool
}

// CallEventConsumer represents a consumer that processes call events.
// Consumers run sequentially on the single dispatcher worker, in registration
// order; ProcessCallEvent must return before the next event is delivered.
type CallEventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessCallEvent processes a single call event
	ProcessCallEvent(event CallEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived      uint64
	EventsSuppressed    uint64
	EventsProcessed     uint64
	EventsDropped       uint64
	CallEventsReceived  uint64
	CallEventsProcessed uint64
	CallEventsDropped   uint64
	ConsumerErrors      uint64
	FastPathHits        uint64 // Number of times fast path was taken (no consumers)
}
