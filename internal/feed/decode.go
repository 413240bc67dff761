package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carebell/carebell-go/internal/events"
)

// wireEvent is the JSON shape emitted by the hardware drivers, one
// event per line.
type wireEvent struct {
	Type    string   `json:"type"`
	Code    string   `json:"code"`
	Files   []string `json:"files"`
	Room    string   `json:"room"`
	Bed     string   `json:"bed"`
	Display string   `json:"display"`
	Port    string   `json:"port"`
}

// DecodeLine decodes one feed line into a call event. The source names
// the transport for logs and stats.
//
// Hardware enclose frames arrive as 90x codes; they acknowledge call
// 10x (same last digit), so both trigger- and response-shaped 90x
// frames decode to a response for the mapped code.
func DecodeLine(line []byte, source string) (events.CallEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch wire.Type {
	case events.CallTypeTrigger:
		code := strings.TrimSpace(wire.Code)
		if code == "" {
			return nil, fmt.Errorf("%s event without code", wire.Type)
		}
		if mapped, ok := mapEncloseCode(code); ok {
			return events.NewResponseEvent(mapped, wire.Display, source)
		}
		return events.NewTriggerEvent(code, wire.Files, wire.Room, wire.Bed, wire.Display, source)

	case events.CallTypeResponse:
		code := strings.TrimSpace(wire.Code)
		if code == "" {
			return nil, fmt.Errorf("%s event without code", wire.Type)
		}
		if mapped, ok := mapEncloseCode(code); ok {
			code = mapped
		}
		return events.NewResponseEvent(code, wire.Display, source)

	case events.CallTypeConnected:
		return events.NewConnectivityEvent(true, wire.Port, source), nil

	case events.CallTypeDisconnected:
		return events.NewConnectivityEvent(false, wire.Port, source), nil

	case events.CallTypeStandby:
		return events.NewStandbyEvent(source), nil

	case "":
		return nil, fmt.Errorf("event without type")

	default:
		return nil, fmt.Errorf("unknown event type %q", wire.Type)
	}
}

// mapEncloseCode maps a hardware enclose code 90x to the call code 10x
// it acknowledges. Returns false for anything else.
func mapEncloseCode(code string) (string, bool) {
	if len(code) != 3 || !strings.HasPrefix(code, "90") {
		return "", false
	}
	last := code[2]
	if last < '0' || last > '9' {
		return "", false
	}
	return "10" + string(last), true
}
