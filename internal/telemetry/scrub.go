package telemetry

import (
	"github.com/getsentry/sentry-go"

	"github.com/carebell/carebell-go/internal/privacy"
)

// Contexts the SDK fills in that can identify a machine.
var sensitiveContexts = []string{"device", "os", "runtime"}

// Extra fields that carry no identifying data and may pass through.
var allowedExtra = map[string]bool{
	"error_type": true,
	"component":  true,
}

// scrubEvent is the BeforeSend hook. It strips everything that could name
// the installation or its operators and anonymizes URLs in message text.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}

	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)

	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	for _, key := range sensitiveContexts {
		delete(event.Contexts, key)
	}

	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")

	for key := range event.Extra {
		if !allowedExtra[key] {
			delete(event.Extra, key)
		}
	}

	return event
}
