package tracker

import (
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/events"
)

// Operator closures. Both synthesize ordinary response events onto the
// dispatcher stream instead of mutating state directly, so the dedup
// and ordering guarantees of the response path hold regardless of which
// goroutine calls them.

// EncloseLatest closes the most recently triggered still-active call.
// Returns the code whose closure was requested.
func (t *Tracker) EncloseLatest() (string, error) {
	t.mu.RLock()
	var code string
	if n := len(t.order); n > 0 {
		code = t.order[n-1]
	}
	t.mu.RUnlock()

	if code == "" {
		return "", errors.Newf("no active calls to enclose").
			Component("tracker").
			Category(errors.CategoryNotFound).
			Context("operation", "enclose_latest").
			Build()
	}

	if err := t.publishResponse(code); err != nil {
		return "", err
	}
	t.logger.Info("operator enclosure requested", "code", code)
	return code, nil
}

// EncloseAll closes every still-active call in trigger order. Returns
// how many closure events were accepted onto the stream.
func (t *Tracker) EncloseAll() (int, error) {
	t.mu.RLock()
	codes := make([]string, len(t.order))
	copy(codes, t.order)
	t.mu.RUnlock()

	closed := 0
	for _, code := range codes {
		if err := t.publishResponse(code); err != nil {
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		t.logger.Info("operator enclosure of all active calls requested", "count", closed)
	}
	return closed, nil
}

func (t *Tracker) publishResponse(code string) error {
	event, err := events.NewResponseEvent(code, "", "operator")
	if err != nil {
		return err
	}

	if t.publisher == nil {
		// No stream wired (tests, degraded startup): run inline on the
		// caller's goroutine.
		t.handleResponse(event)
		return nil
	}

	if !t.publisher.TryPublishCall(event) {
		return errors.Newf("event stream rejected enclosure for call %s", code).
			Component("tracker").
			Category(errors.CategoryState).
			Context("operation", "enclose").
			Context("call_code", code).
			Build()
	}
	return nil
}
