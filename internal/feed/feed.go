// Package feed implements the inbound event transports. Each source
// decodes newline-delimited JSON events from a hardware driver and
// hands them to the dispatcher stream without ever blocking on it.
package feed

import (
	"bytes"
	"log/slog"
	"sync/atomic"

	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/logging"
)

// Publisher accepts decoded events onto the dispatcher stream.
type Publisher interface {
	TryPublishCall(event events.CallEvent) bool
}

// Stats is a snapshot of one source's activity counters.
type Stats struct {
	Source      string `json:"source"`
	Connections uint64 `json:"connections,omitempty"`
	ActiveConns int    `json:"active_connections,omitempty"`
	Lines       uint64 `json:"lines"`
	Malformed   uint64 `json:"malformed"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// getLoggerSafe returns a logger for the source, falling back to the
// default logger when logging has not been initialized yet.
func getLoggerSafe(source string) *slog.Logger {
	logger := logging.ForService(source)
	if logger == nil {
		logger = slog.Default().With("service", source)
	}
	return logger
}

// ingest is the decode-and-publish path shared by every source.
type ingest struct {
	bus    Publisher
	source string
	logger *slog.Logger

	lines     atomic.Uint64
	malformed atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func newIngest(bus Publisher, source string, logger *slog.Logger) *ingest {
	return &ingest{bus: bus, source: source, logger: logger}
}

// line decodes one raw feed line and publishes the result. Blank lines
// are skipped; malformed lines are counted and dropped.
func (in *ingest) line(raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	in.lines.Add(1)

	event, err := DecodeLine(trimmed, in.source)
	if err != nil {
		in.malformed.Add(1)
		in.logger.Debug("skipping malformed line", "error", err, "length", len(trimmed))
		return
	}

	if in.bus.TryPublishCall(event) {
		in.published.Add(1)
	} else {
		in.dropped.Add(1)
		in.logger.Warn("dispatcher stream full, event dropped", "type", event.GetType(), "code", event.GetCode())
	}
}

// connectivity publishes a synthetic connectivity event for sources
// that are authoritative for the hardware link state.
func (in *ingest) connectivity(connected bool, port string) {
	event := events.NewConnectivityEvent(connected, port, in.source)
	if in.bus.TryPublishCall(event) {
		in.published.Add(1)
	} else {
		in.dropped.Add(1)
	}
}

func (in *ingest) stats() Stats {
	return Stats{
		Source:    in.source,
		Lines:     in.lines.Load(),
		Malformed: in.malformed.Load(),
		Published: in.published.Load(),
		Dropped:   in.dropped.Load(),
	}
}
