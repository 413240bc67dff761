package events

import (
	"github.com/carebell/carebell-go/internal/errors"
)

// EventPublisherAdapter adapts the EventBus to the errors.EventPublisher
// interface. The errors package cannot import this one, so it publishes
// through an any-typed contract and the adapter restores the type.
type EventPublisherAdapter struct {
	eventBus *EventBus
}

// NewEventPublisherAdapter creates a new adapter
func NewEventPublisherAdapter(eventBus *EventBus) *EventPublisherAdapter {
	return &EventPublisherAdapter{
		eventBus: eventBus,
	}
}

// TryPublish attempts to publish an event.
// It accepts any and type asserts to ErrorEvent.
func (a *EventPublisherAdapter) TryPublish(event any) bool {
	// Fast path: check if any consumers are active
	if !HasActiveConsumers() {
		return false
	}

	if a.eventBus == nil {
		return false
	}

	errorEvent, ok := event.(ErrorEvent)
	if !ok {
		return false
	}

	return a.eventBus.TryPublish(errorEvent)
}

// InitializeErrorsIntegration points the errors package at the global bus so
// built errors surface as error events. Call after Initialize; a missing bus
// leaves the integration unset.
func InitializeErrorsIntegration() {
	eb := GetEventBus()
	if eb == nil {
		return
	}

	errors.SetEventPublisher(NewEventPublisherAdapter(eb))
}
