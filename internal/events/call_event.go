package events

import (
	"fmt"
	"time"

	"github.com/carebell/carebell-go/internal/errors"
)

// Call event types as they appear on the feed transports.
const (
	CallTypeTrigger      = "nurse-call"
	CallTypeResponse     = "nurse-call-response"
	CallTypeConnected    = "serial-connected"
	CallTypeDisconnected = "serial-disconnected"
	CallTypeStandby      = "standby"
)

// CallEvent represents a decoded hardware event traveling through the
// dispatcher stream: a trigger, a response, or a connectivity change.
type CallEvent interface {
	// GetType returns the event type (CallTypeTrigger, CallTypeResponse, ...)
	GetType() string

	// GetCode returns the call code, empty for connectivity events
	GetCode() string

	// GetFiles returns the ordered sound files of a trigger event
	GetFiles() []string

	// GetRoom returns the room label when the source provided one
	GetRoom() string

	// GetBed returns the bed label when the source provided one
	GetBed() string

	// GetDisplay returns a preformatted display label when the source provided one
	GetDisplay() string

	// GetPort returns the serial port name for connectivity events
	GetPort() string

	// GetSource returns the transport that delivered the event
	GetSource() string

	// GetTimestamp returns when the event was decoded
	GetTimestamp() time.Time
}

// callEventImpl is the concrete implementation of CallEvent
type callEventImpl struct {
	eventType string
	code      string
	files     []string
	room      string
	bed       string
	display   string
	port      string
	source    string
	timestamp time.Time
}

// NewTriggerEvent creates a nurse-call trigger event with input validation
func NewTriggerEvent(code string, files []string, room, bed, display, source string) (CallEvent, error) {
	if code == "" {
		return nil, errors.Newf("NewTriggerEvent: code cannot be empty").
			Component("events").
			Category(errors.CategoryValidation).
			Build()
	}

	return &callEventImpl{
		eventType: CallTypeTrigger,
		code:      code,
		files:     files,
		room:      room,
		bed:       bed,
		display:   display,
		source:    source,
		timestamp: time.Now(),
	}, nil
}

// NewResponseEvent creates a nurse-call response event with input validation
func NewResponseEvent(code, display, source string) (CallEvent, error) {
	if code == "" {
		return nil, errors.Newf("NewResponseEvent: code cannot be empty").
			Component("events").
			Category(errors.CategoryValidation).
			Build()
	}

	return &callEventImpl{
		eventType: CallTypeResponse,
		code:      code,
		display:   display,
		source:    source,
		timestamp: time.Now(),
	}, nil
}

// NewStandbyEvent creates a standby pulse event. The hardware emits these
// while no button is pressed; the tracker counts consecutive pulses to
// auto-complete a call whose response frame was lost.
func NewStandbyEvent(source string) CallEvent {
	return &callEventImpl{
		eventType: CallTypeStandby,
		source:    source,
		timestamp: time.Now(),
	}
}

// NewConnectivityEvent creates a serial connectivity event. Connected events
// may carry the port name reported by the driver.
func NewConnectivityEvent(connected bool, port, source string) CallEvent {
	eventType := CallTypeDisconnected
	if connected {
		eventType = CallTypeConnected
	}

	return &callEventImpl{
		eventType: eventType,
		port:      port,
		source:    source,
		timestamp: time.Now(),
	}
}

// GetType returns the event type
func (e *callEventImpl) GetType() string {
	return e.eventType
}

// GetCode returns the call code, empty for connectivity events
func (e *callEventImpl) GetCode() string {
	return e.code
}

// GetFiles returns the ordered sound files of a trigger event
func (e *callEventImpl) GetFiles() []string {
	return e.files
}

// GetRoom returns the room label when the source provided one
func (e *callEventImpl) GetRoom() string {
	return e.room
}

// GetBed returns the bed label when the source provided one
func (e *callEventImpl) GetBed() string {
	return e.bed
}

// GetDisplay returns a preformatted display label when the source provided one
func (e *callEventImpl) GetDisplay() string {
	return e.display
}

// GetPort returns the serial port name for connectivity events
func (e *callEventImpl) GetPort() string {
	return e.port
}

// GetSource returns the transport that delivered the event
func (e *callEventImpl) GetSource() string {
	return e.source
}

// GetTimestamp returns when the event was decoded
func (e *callEventImpl) GetTimestamp() time.Time {
	return e.timestamp
}

// String returns a string representation of the call event
func (e *callEventImpl) String() string {
	switch e.eventType {
	case CallTypeTrigger:
		return fmt.Sprintf("%s code=%s files=%d source=%s", e.eventType, e.code, len(e.files), e.source)
	case CallTypeResponse:
		return fmt.Sprintf("%s code=%s source=%s", e.eventType, e.code, e.source)
	default:
		return fmt.Sprintf("%s source=%s", e.eventType, e.source)
	}
}
