// Package observability exposes the nurse-call pipeline to Prometheus.
//
// Every component in the pipeline keeps its own counters and hands them out
// as an atomic snapshot through a Stats method. This package turns those
// snapshots into Prometheus metrics at scrape time instead of mirroring each
// increment: a collector per source reads the snapshot inside Collect and
// emits constant metrics, so the components never import Prometheus and a
// scrape always reflects the pipeline's current view of itself.
package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/feed"
	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/monitor"
	"github.com/carebell/carebell-go/internal/mqttpub"
	"github.com/carebell/carebell-go/internal/notification"
	"github.com/carebell/carebell-go/internal/tracker"
)

// namespace prefixes every metric this package registers.
const namespace = "carebell"

func getLoggerSafe(module string) *slog.Logger {
	logger := logging.ForService(module)
	if logger == nil {
		logger = slog.Default().With("service", module)
	}
	return logger
}

// Metrics owns the Prometheus registry for the process and the set of
// collectors wired to pipeline components.
type Metrics struct {
	registry *prometheus.Registry
	logger   *slog.Logger
}

// Option wires one metric source into a Metrics instance.
type Option func(*Metrics) error

// New builds a registry with the Go runtime and process collectors plus
// whichever pipeline sources the options wire in.
func New(opts ...Option) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   getLoggerSafe("observability"),
	}

	m.registry.MustRegister(
		promcollectors.NewGoCollector(),
		promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
	)

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) register(c prometheus.Collector, source string) error {
	if err := m.registry.Register(c); err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryConfiguration).
			Context("source", source).
			Build()
	}
	return nil
}

// WithTracker exports call-board counters: triggers, completions, the active
// call gauge and the feed connectivity flag.
func WithTracker(stats func() tracker.Stats) Option {
	return func(m *Metrics) error {
		return m.register(&trackerCollector{stats: stats}, "tracker")
	}
}

// WithAnnouncer exports playback queue depth and per-stack outcomes.
func WithAnnouncer(stats func() announcer.Stats) Option {
	return func(m *Metrics) error {
		return m.register(&announcerCollector{stats: stats}, "announcer")
	}
}

// WithEventBus exports the bus lane counters and the deduplication cache.
// The bus accessors tolerate a nil receiver, so the option may be wired
// before the bus exists.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Metrics) error {
		return m.register(&busCollector{stats: bus.GetStats, dedup: bus.GetDeduplicationStats}, "events")
	}
}

// WithHistory exports the call log size and flush outcomes.
func WithHistory(records func() int, flush func() history.FlushStats) Option {
	return func(m *Metrics) error {
		return m.register(&historyCollector{records: records, flush: flush}, "history")
	}
}

// WithNotificationWorker exports the notification worker's event counters and
// its circuit breaker state.
func WithNotificationWorker(stats func() notification.WorkerStats) Option {
	return func(m *Metrics) error {
		return m.register(&workerCollector{stats: stats}, "notification-worker")
	}
}

// WithPushDispatcher exports per-provider delivery outcomes.
func WithPushDispatcher(stats func() map[string]notification.ProviderStats) Option {
	return func(m *Metrics) error {
		return m.register(&dispatcherCollector{stats: stats}, "push-dispatcher")
	}
}

// WithFeeds exports line and connection counters for each wired feed
// transport, labelled by source.
func WithFeeds(stats ...func() feed.Stats) Option {
	return func(m *Metrics) error {
		return m.register(&feedCollector{stats: stats}, "feed")
	}
}

// WithPublisher exports the MQTT outbox and client connection counters.
func WithPublisher(stats func() mqttpub.Stats) Option {
	return func(m *Metrics) error {
		return m.register(&publisherCollector{stats: stats}, "mqtt")
	}
}

// WithMonitor exports the last observed usage and alert level of every
// resource the system monitor watches.
func WithMonitor(status func() []monitor.ResourceStatus) Option {
	return func(m *Metrics) error {
		return m.register(&monitorCollector{status: status}, "monitor")
	}
}

// Registry exposes the underlying registry for ad-hoc registration.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(m.logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}
