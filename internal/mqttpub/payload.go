package mqttpub

import "github.com/carebell/carebell-go/internal/announcer"

// callTriggeredPayload is the wire shape for calls/triggered.
type callTriggeredPayload struct {
	Code        string `json:"code"`
	Room        string `json:"room,omitempty"`
	Bed         string `json:"bed,omitempty"`
	Display     string `json:"display"`
	TriggeredAt string `json:"triggered_at"`
	Node        string `json:"node,omitempty"`
}

// callCompletedPayload is the wire shape for calls/completed.
type callCompletedPayload struct {
	Code        string  `json:"code"`
	Display     string  `json:"display"`
	DurationSec float64 `json:"duration_sec"`
	CompletedAt string  `json:"completed_at"`
	Node        string  `json:"node,omitempty"`
}

// announcerStatusPayload is the wire shape for announcer/status.
type announcerStatusPayload struct {
	announcer.Stats
	Timestamp string `json:"timestamp"`
	Node      string `json:"node,omitempty"`
}
