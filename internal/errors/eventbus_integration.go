// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// It allows the errors package to publish events without importing the
// events package, avoiding circular dependencies.
type EventPublisher interface {
	TryPublish(event any) bool
}

// hasActiveReporting tracks whether any reporting sink (event bus or
// telemetry) is configured, so Build can skip detection work entirely when
// nobody is listening.
var hasActiveReporting atomic.Bool

// Global event publisher (set by the events package)
var globalEventPublisher atomic.Pointer[EventPublisher]

// SetEventPublisher sets the global event publisher.
// This should be called by the events package during initialization.
func SetEventPublisher(publisher EventPublisher) {
	globalEventPublisher.Store(&publisher)
	updateActiveReporting()
}

// publishToEventBus publishes an error to the event bus if available
func publishToEventBus(ee *EnhancedError) bool {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil {
		return false
	}

	publisher := *publisherPtr
	if publisher == nil {
		return false
	}

	return publisher.TryPublish(ee)
}

// reportToTelemetry routes an error to the event bus when one is attached,
// falling back to the direct telemetry reporter otherwise.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}

	if publishToEventBus(ee) {
		return
	}

	if globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled() {
		globalTelemetryReporter.ReportError(ee)
	}
}

// updateActiveReporting recomputes the fast-path flag after a sink change.
func updateActiveReporting() {
	active := false
	if ptr := globalEventPublisher.Load(); ptr != nil && *ptr != nil {
		active = true
	}
	if globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled() {
		active = true
	}
	hasActiveReporting.Store(active)
}
