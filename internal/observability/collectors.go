package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/feed"
	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/monitor"
	"github.com/carebell/carebell-go/internal/mqttpub"
	"github.com/carebell/carebell-go/internal/notification"
	"github.com/carebell/carebell-go/internal/tracker"
)

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// trackerCollector reads the call board snapshot.
type trackerCollector struct {
	stats func() tracker.Stats
}

var (
	descFeedConnected = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "feed_connected"),
		"Whether the call feed currently reports peers as connected.",
		nil, nil,
	)
	descCallsActive = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "active"),
		"Number of calls currently on the board.",
		nil, nil,
	)
	descCallsTriggered = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "triggered_total"),
		"Calls opened since start.",
		nil, nil,
	)
	descCallsCompleted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "completed_total"),
		"Calls closed by a ward response since start.",
		nil, nil,
	)
	descCallsAutoCompleted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "auto_completed_total"),
		"Calls closed by the standby-pulse fallback since start.",
		nil, nil,
	)
	descCallsSuppressedTriggers = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "suppressed_triggers_total"),
		"Trigger events ignored because the call was already active.",
		nil, nil,
	)
	descCallsSuppressedResponses = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "suppressed_responses_total"),
		"Response events ignored because the call was already handled.",
		nil, nil,
	)
	descCallsIgnoredDisconnected = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calls", "ignored_disconnected_total"),
		"Call events discarded while the feed reported no connection.",
		nil, nil,
	)
	descChatFailures = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "chat", "failures_total"),
		"Chat deliveries that failed after retries.",
		nil, nil,
	)
)

func (c *trackerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descFeedConnected
	ch <- descCallsActive
	ch <- descCallsTriggered
	ch <- descCallsCompleted
	ch <- descCallsAutoCompleted
	ch <- descCallsSuppressedTriggers
	ch <- descCallsSuppressedResponses
	ch <- descCallsIgnoredDisconnected
	ch <- descChatFailures
}

func (c *trackerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descFeedConnected, prometheus.GaugeValue, boolValue(s.Connected))
	ch <- prometheus.MustNewConstMetric(descCallsActive, prometheus.GaugeValue, float64(s.ActiveCalls))
	ch <- prometheus.MustNewConstMetric(descCallsTriggered, prometheus.CounterValue, float64(s.Triggered))
	ch <- prometheus.MustNewConstMetric(descCallsCompleted, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(descCallsAutoCompleted, prometheus.CounterValue, float64(s.AutoCompleted))
	ch <- prometheus.MustNewConstMetric(descCallsSuppressedTriggers, prometheus.CounterValue, float64(s.SuppressedTriggers))
	ch <- prometheus.MustNewConstMetric(descCallsSuppressedResponses, prometheus.CounterValue, float64(s.SuppressedResponses))
	ch <- prometheus.MustNewConstMetric(descCallsIgnoredDisconnected, prometheus.CounterValue, float64(s.IgnoredDisconnected))
	ch <- prometheus.MustNewConstMetric(descChatFailures, prometheus.CounterValue, float64(s.ChatFailures))
}

// announcerCollector reads the playback scheduler snapshot.
type announcerCollector struct {
	stats func() announcer.Stats
}

var (
	descAnnouncerQueueDepth = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "queue_depth"),
		"Sound stacks waiting to be played.",
		nil, nil,
	)
	descAnnouncerDraining = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "draining"),
		"Whether a sound stack is being played right now.",
		nil, nil,
	)
	descAnnouncerStacksPlayed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "stacks_played_total"),
		"Sound stacks played to completion.",
		nil, nil,
	)
	descAnnouncerStacksDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "stacks_dropped_total"),
		"Sound stacks discarded because the queue was full.",
		nil, nil,
	)
	descAnnouncerFilesPlayed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "files_played_total"),
		"Individual sound files played.",
		nil, nil,
	)
	descAnnouncerPlayFailures = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "announcer", "play_failures_total"),
		"Sound files that failed to play.",
		nil, nil,
	)
)

func (c *announcerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAnnouncerQueueDepth
	ch <- descAnnouncerDraining
	ch <- descAnnouncerStacksPlayed
	ch <- descAnnouncerStacksDropped
	ch <- descAnnouncerFilesPlayed
	ch <- descAnnouncerPlayFailures
}

func (c *announcerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descAnnouncerQueueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(descAnnouncerDraining, prometheus.GaugeValue, boolValue(s.Draining))
	ch <- prometheus.MustNewConstMetric(descAnnouncerStacksPlayed, prometheus.CounterValue, float64(s.StacksPlayed))
	ch <- prometheus.MustNewConstMetric(descAnnouncerStacksDropped, prometheus.CounterValue, float64(s.StacksDropped))
	ch <- prometheus.MustNewConstMetric(descAnnouncerFilesPlayed, prometheus.CounterValue, float64(s.FilesPlayed))
	ch <- prometheus.MustNewConstMetric(descAnnouncerPlayFailures, prometheus.CounterValue, float64(s.PlayFailures))
}

// busCollector reads the event bus lane counters and its dedup cache.
type busCollector struct {
	stats func() events.EventBusStats
	dedup func() events.DeduplicationStats
}

var (
	descBusCallReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "call_events_received_total"),
		"Call events accepted onto the bus.",
		nil, nil,
	)
	descBusCallProcessed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "call_events_processed_total"),
		"Call events handed to consumers.",
		nil, nil,
	)
	descBusCallDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "call_events_dropped_total"),
		"Call events dropped because the lane was full.",
		nil, nil,
	)
	descBusErrorReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "error_events_received_total"),
		"Error events accepted onto the bus.",
		nil, nil,
	)
	descBusErrorSuppressed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "error_events_suppressed_total"),
		"Error events suppressed by deduplication.",
		nil, nil,
	)
	descBusErrorProcessed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "error_events_processed_total"),
		"Error events handed to consumers.",
		nil, nil,
	)
	descBusErrorDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "error_events_dropped_total"),
		"Error events dropped because the lane was full.",
		nil, nil,
	)
	descBusConsumerErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "consumer_errors_total"),
		"Consumer callbacks that returned an error.",
		nil, nil,
	)
	descBusDedupEntries = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "dedup_cache_entries"),
		"Entries currently held by the error deduplication cache.",
		nil, nil,
	)
	descBusDedupHits = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "dedup_cache_hits_total"),
		"Lookups that found a previously seen error signature.",
		nil, nil,
	)
	descBusDedupMisses = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "dedup_cache_misses_total"),
		"Lookups that saw a new error signature.",
		nil, nil,
	)
)

func (c *busCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descBusCallReceived
	ch <- descBusCallProcessed
	ch <- descBusCallDropped
	ch <- descBusErrorReceived
	ch <- descBusErrorSuppressed
	ch <- descBusErrorProcessed
	ch <- descBusErrorDropped
	ch <- descBusConsumerErrors
	ch <- descBusDedupEntries
	ch <- descBusDedupHits
	ch <- descBusDedupMisses
}

func (c *busCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descBusCallReceived, prometheus.CounterValue, float64(s.CallEventsReceived))
	ch <- prometheus.MustNewConstMetric(descBusCallProcessed, prometheus.CounterValue, float64(s.CallEventsProcessed))
	ch <- prometheus.MustNewConstMetric(descBusCallDropped, prometheus.CounterValue, float64(s.CallEventsDropped))
	ch <- prometheus.MustNewConstMetric(descBusErrorReceived, prometheus.CounterValue, float64(s.EventsReceived))
	ch <- prometheus.MustNewConstMetric(descBusErrorSuppressed, prometheus.CounterValue, float64(s.EventsSuppressed))
	ch <- prometheus.MustNewConstMetric(descBusErrorProcessed, prometheus.CounterValue, float64(s.EventsProcessed))
	ch <- prometheus.MustNewConstMetric(descBusErrorDropped, prometheus.CounterValue, float64(s.EventsDropped))
	ch <- prometheus.MustNewConstMetric(descBusConsumerErrors, prometheus.CounterValue, float64(s.ConsumerErrors))

	d := c.dedup()
	ch <- prometheus.MustNewConstMetric(descBusDedupEntries, prometheus.GaugeValue, float64(d.CacheSize))
	ch <- prometheus.MustNewConstMetric(descBusDedupHits, prometheus.CounterValue, float64(d.CacheHits))
	ch <- prometheus.MustNewConstMetric(descBusDedupMisses, prometheus.CounterValue, float64(d.CacheMisses))
}

// historyCollector reads the call log size and flusher outcome counters.
type historyCollector struct {
	records func() int
	flush   func() history.FlushStats
}

var (
	descHistoryRecords = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "history", "records"),
		"Call records in the log file, soft-deleted entries included.",
		nil, nil,
	)
	descHistoryFlushes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "history", "flushes_total"),
		"Successful writes of the call log to disk.",
		nil, nil,
	)
	descHistoryFlushFailures = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "history", "flush_failures_total"),
		"Failed writes of the call log to disk.",
		nil, nil,
	)
	descHistoryDirty = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "history", "dirty"),
		"Whether the in-memory call log has changes not yet on disk.",
		nil, nil,
	)
)

func (c *historyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHistoryRecords
	ch <- descHistoryFlushes
	ch <- descHistoryFlushFailures
	ch <- descHistoryDirty
}

func (c *historyCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descHistoryRecords, prometheus.GaugeValue, float64(c.records()))
	s := c.flush()
	ch <- prometheus.MustNewConstMetric(descHistoryFlushes, prometheus.CounterValue, float64(s.Flushes))
	ch <- prometheus.MustNewConstMetric(descHistoryFlushFailures, prometheus.CounterValue, float64(s.Failures))
	ch <- prometheus.MustNewConstMetric(descHistoryDirty, prometheus.GaugeValue, boolValue(s.Dirty))
}

// workerCollector reads the notification worker counters and breaker state.
type workerCollector struct {
	stats func() notification.WorkerStats
}

// Breaker states reported by the notification worker.
var circuitStates = []string{"closed", "half-open", "open"}

var (
	descWorkerProcessed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "notifications", "events_processed_total"),
		"Bus events the notification worker turned into notifications.",
		nil, nil,
	)
	descWorkerDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "notifications", "events_dropped_total"),
		"Bus events the notification worker discarded.",
		nil, nil,
	)
	descWorkerFailed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "notifications", "events_failed_total"),
		"Bus events whose notification could not be created.",
		nil, nil,
	)
	descWorkerCircuit = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "notifications", "circuit_state"),
		"Notification worker circuit breaker state, one series per state.",
		[]string{"state"}, nil,
	)
)

func (c *workerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descWorkerProcessed
	ch <- descWorkerDropped
	ch <- descWorkerFailed
	ch <- descWorkerCircuit
}

func (c *workerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descWorkerProcessed, prometheus.CounterValue, float64(s.EventsProcessed))
	ch <- prometheus.MustNewConstMetric(descWorkerDropped, prometheus.CounterValue, float64(s.EventsDropped))
	ch <- prometheus.MustNewConstMetric(descWorkerFailed, prometheus.CounterValue, float64(s.EventsFailed))
	known := false
	for _, state := range circuitStates {
		active := state == s.CircuitState
		known = known || active
		ch <- prometheus.MustNewConstMetric(descWorkerCircuit, prometheus.GaugeValue, boolValue(active), state)
	}
	if !known && s.CircuitState != "" {
		ch <- prometheus.MustNewConstMetric(descWorkerCircuit, prometheus.GaugeValue, 1, s.CircuitState)
	}
}

// dispatcherCollector reads per-provider delivery counters.
type dispatcherCollector struct {
	stats func() map[string]notification.ProviderStats
}

var descDeliveries = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "notifications", "deliveries_total"),
	"Push deliveries by provider and outcome.",
	[]string{"provider", "result"}, nil,
)

func (c *dispatcherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descDeliveries
}

func (c *dispatcherCollector) Collect(ch chan<- prometheus.Metric) {
	for provider, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(descDeliveries, prometheus.CounterValue, float64(s.Sent), provider, "sent")
		ch <- prometheus.MustNewConstMetric(descDeliveries, prometheus.CounterValue, float64(s.Failed), provider, "failed")
	}
}

// feedCollector reads one snapshot per wired feed transport.
type feedCollector struct {
	stats []func() feed.Stats
}

var (
	descFeedLines = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "lines_total"),
		"Raw lines read from the feed.",
		[]string{"source"}, nil,
	)
	descFeedMalformed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "malformed_total"),
		"Lines the feed decoder rejected.",
		[]string{"source"}, nil,
	)
	descFeedPublished = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "published_total"),
		"Decoded events published to the bus.",
		[]string{"source"}, nil,
	)
	descFeedDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "dropped_total"),
		"Decoded events the bus did not accept.",
		[]string{"source"}, nil,
	)
	descFeedConnections = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "connections_total"),
		"Connections accepted or established by the transport.",
		[]string{"source"}, nil,
	)
	descFeedActiveConns = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "active_connections"),
		"Connections currently open on the transport.",
		[]string{"source"}, nil,
	)
)

func (c *feedCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descFeedLines
	ch <- descFeedMalformed
	ch <- descFeedPublished
	ch <- descFeedDropped
	ch <- descFeedConnections
	ch <- descFeedActiveConns
}

func (c *feedCollector) Collect(ch chan<- prometheus.Metric) {
	for _, stats := range c.stats {
		s := stats()
		ch <- prometheus.MustNewConstMetric(descFeedLines, prometheus.CounterValue, float64(s.Lines), s.Source)
		ch <- prometheus.MustNewConstMetric(descFeedMalformed, prometheus.CounterValue, float64(s.Malformed), s.Source)
		ch <- prometheus.MustNewConstMetric(descFeedPublished, prometheus.CounterValue, float64(s.Published), s.Source)
		ch <- prometheus.MustNewConstMetric(descFeedDropped, prometheus.CounterValue, float64(s.Dropped), s.Source)
		ch <- prometheus.MustNewConstMetric(descFeedConnections, prometheus.CounterValue, float64(s.Connections), s.Source)
		ch <- prometheus.MustNewConstMetric(descFeedActiveConns, prometheus.GaugeValue, float64(s.ActiveConns), s.Source)
	}
}

// publisherCollector reads the MQTT outbox and client counters.
type publisherCollector struct {
	stats func() mqttpub.Stats
}

var (
	descMQTTOutboxDepth = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "outbox_depth"),
		"Messages waiting in the publish outbox.",
		nil, nil,
	)
	descMQTTOutboxEnqueued = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "outbox_enqueued_total"),
		"Messages accepted into the publish outbox.",
		nil, nil,
	)
	descMQTTOutboxDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "outbox_dropped_total"),
		"Messages discarded because the outbox was full.",
		nil, nil,
	)
	descMQTTOutboxErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "outbox_errors_total"),
		"Outbox messages whose publish attempt failed.",
		nil, nil,
	)
	descMQTTConnected = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "connected"),
		"Whether the MQTT client is connected to the broker.",
		nil, nil,
	)
	descMQTTConnects = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "connects_total"),
		"Successful broker connections.",
		nil, nil,
	)
	descMQTTConnectionsLost = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "connections_lost_total"),
		"Broker connections lost.",
		nil, nil,
	)
	descMQTTPublished = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "published_total"),
		"Messages the client published.",
		nil, nil,
	)
	descMQTTPublishErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "publish_errors_total"),
		"Client publish attempts that failed.",
		nil, nil,
	)
	descMQTTReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "received_total"),
		"Messages received on subscribed topics.",
		nil, nil,
	)
	descMQTTReconnects = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "reconnect_attempts_total"),
		"Reconnect attempts after a lost connection.",
		nil, nil,
	)
)

func (c *publisherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descMQTTOutboxDepth
	ch <- descMQTTOutboxEnqueued
	ch <- descMQTTOutboxDropped
	ch <- descMQTTOutboxErrors
	ch <- descMQTTConnected
	ch <- descMQTTConnects
	ch <- descMQTTConnectionsLost
	ch <- descMQTTPublished
	ch <- descMQTTPublishErrors
	ch <- descMQTTReceived
	ch <- descMQTTReconnects
}

func (c *publisherCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descMQTTOutboxDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(descMQTTOutboxEnqueued, prometheus.CounterValue, float64(s.Enqueued))
	ch <- prometheus.MustNewConstMetric(descMQTTOutboxDropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(descMQTTOutboxErrors, prometheus.CounterValue, float64(s.PublishErrors))
	ch <- prometheus.MustNewConstMetric(descMQTTConnected, prometheus.GaugeValue, boolValue(s.Client.Connected))
	ch <- prometheus.MustNewConstMetric(descMQTTConnects, prometheus.CounterValue, float64(s.Client.Connects))
	ch <- prometheus.MustNewConstMetric(descMQTTConnectionsLost, prometheus.CounterValue, float64(s.Client.ConnectionsLost))
	ch <- prometheus.MustNewConstMetric(descMQTTPublished, prometheus.CounterValue, float64(s.Client.Published))
	ch <- prometheus.MustNewConstMetric(descMQTTPublishErrors, prometheus.CounterValue, float64(s.Client.PublishErrors))
	ch <- prometheus.MustNewConstMetric(descMQTTReceived, prometheus.CounterValue, float64(s.Client.Received))
	ch <- prometheus.MustNewConstMetric(descMQTTReconnects, prometheus.CounterValue, float64(s.Client.ReconnectAttempts))
}

// monitorCollector reads the resource monitor's per-resource snapshot.
type monitorCollector struct {
	status func() []monitor.ResourceStatus
}

var (
	descResourceUsage = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "resource", "used_percent"),
		"Usage of a monitored system resource.",
		[]string{"resource", "mount"}, nil,
	)
	descResourceAlert = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "resource", "alert_level"),
		"Alert level of a monitored resource: 0 ok, 1 warning, 2 critical.",
		[]string{"resource", "mount"}, nil,
	)
)

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descResourceUsage
	ch <- descResourceAlert
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.status() {
		var level float64
		switch s.Level {
		case "warning":
			level = 1
		case "critical":
			level = 2
		}
		ch <- prometheus.MustNewConstMetric(descResourceUsage, prometheus.GaugeValue, s.UsedPercent, s.Resource, s.Mount)
		ch <- prometheus.MustNewConstMetric(descResourceAlert, prometheus.GaugeValue, level, s.Resource, s.Mount)
	}
}
