// Package node assembles and runs the nurse call pipeline: inbound event
// feeds, the dispatcher stream, call tracking, announcement playback,
// notifications, outbound publishing and the operator HTTP API.
package node

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/api"
	"github.com/carebell/carebell-go/internal/audio"
	"github.com/carebell/carebell-go/internal/backup"
	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/feed"
	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/monitor"
	"github.com/carebell/carebell-go/internal/mqttpub"
	"github.com/carebell/carebell-go/internal/notification"
	"github.com/carebell/carebell-go/internal/observability"
	"github.com/carebell/carebell-go/internal/registry"
	"github.com/carebell/carebell-go/internal/telemetry"
	"github.com/carebell/carebell-go/internal/tracker"
)

const (
	busShutdownTimeout    = 5 * time.Second
	announcerStopTimeout  = 5 * time.Second
	telemetryFlushTimeout = 3 * time.Second
	defaultBackupInterval = 24 * time.Hour
)

// source is the common lifecycle of every inbound transport.
type source interface {
	Start() error
	Stop()
	Stats() feed.Stats
}

// node holds every running component so shutdown can walk them in order.
type node struct {
	settings *conf.Settings
	logger   *slog.Logger

	bus        *events.EventBus
	store      *history.Store
	registry   *registry.Registry
	player     *audio.Player
	announcer  *announcer.Announcer
	service    *notification.Service
	worker     *notification.NotificationWorker
	dispatcher *notification.PushDispatcher
	publisher  *mqttpub.Publisher
	tracker    *tracker.Tracker
	feeds      []source
	metrics    *observability.Metrics
	server     *api.Server
	endpoint   *observability.Endpoint
	backups    *backup.Scheduler
	monitor    *monitor.Monitor

	closeMainLog func() error
}

// Run wires every configured component together and blocks until the
// process receives SIGINT or SIGTERM. SIGHUP reloads the code registry
// without interrupting active calls.
func Run(settings *conf.Settings) error {
	logger := logging.ForService("node")
	if logger == nil {
		logger = slog.Default()
	}

	n := &node{settings: settings, logger: logger}

	closeMainLog, err := logging.InitFileOutput(settings.Main.Log)
	if err != nil {
		logger.Warn("main log file unavailable, logging to stdout only", "error", err)
	} else {
		n.closeMainLog = closeMainLog
	}

	logStartup(settings, logger)

	// Error reporting comes up first so startup failures are captured.
	if err := telemetry.Init(settings); err != nil {
		logger.Warn("telemetry reporting disabled", "error", err)
	}

	bus, err := events.Initialize(events.DefaultConfig())
	if err != nil {
		return err
	}
	events.InitializeErrorsIntegration()
	n.bus = bus

	if err := n.build(); err != nil {
		n.shutdown()
		return err
	}
	if err := n.start(); err != nil {
		n.shutdown()
		return err
	}

	logger.Info("nurse call console running",
		"node", settings.Main.Name,
		"feeds", len(n.feeds),
		"registry_codes", n.registry.Len())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			n.reloadRegistry()
			continue
		}
		logger.Info("shutdown signal received", "signal", sig.String())
		break
	}

	n.shutdown()
	return nil
}

// build constructs the components in dependency order. Optional
// subsystems that fail to come up are logged and skipped; the core
// pipeline either builds completely or Run returns the error.
func (n *node) build() error {
	settings := n.settings

	n.store = history.New(settings.History)

	n.registry = registry.New(settings.Registry.Path)
	if err := n.registry.Load(); err != nil {
		n.logger.Warn("registry not loaded, calls are announced without room labels", "error", err)
	}

	n.player = audio.New(settings.Audio)
	preloadCatalog(n.player, n.registry)
	n.announcer = announcer.New(settings.Announcer, n.player)

	notification.Initialize(serviceConfig(settings))
	n.service = notification.GetService()

	worker, err := notification.NewNotificationWorker(n.service, nil)
	if err != nil {
		return err
	}
	if err := n.bus.RegisterConsumer(worker); err != nil {
		return err
	}
	n.worker = worker

	n.dispatcher = notification.NewPushDispatcher(&settings.Notification, n.service)

	if settings.MQTT.Enabled {
		publisher, err := mqttpub.New(settings.MQTT, settings.Main.Name,
			mqttpub.WithAnnouncerStats(n.announcer.Stats))
		if err != nil {
			n.logger.Warn("MQTT publishing disabled", "error", err)
		} else {
			n.publisher = publisher
		}
	}

	opts := []tracker.Option{
		tracker.WithDirectory(n.registry),
		tracker.WithNotifier(n.service),
		tracker.WithPublisher(n.bus),
	}
	if chat := n.dispatcher.ChatSender(); chat != nil {
		opts = append(opts, tracker.WithChatSender(chat))
	}
	if n.publisher != nil {
		opts = append(opts, tracker.WithTransitionSink(n.publisher))
	}
	n.tracker = tracker.New(settings.Tracker, n.announcer, n.store, opts...)
	if err := n.bus.RegisterCallConsumer(n.tracker); err != nil {
		return err
	}

	if err := n.buildFeeds(); err != nil {
		return err
	}

	if settings.Monitor.Enabled {
		n.monitor = monitor.New(settings)
	}

	if err := n.buildMetrics(); err != nil {
		return err
	}

	if settings.WebServer.Enabled {
		server, err := api.New(settings,
			api.WithCallBoard(n.tracker),
			api.WithCallLog(n.store),
			api.WithAudio(n.player),
			api.WithAnnouncer(n.announcer),
			api.WithNotifications(n.service),
			api.WithDirectory(n.registry),
			api.WithMetricsHandler(n.metrics.Handler()))
		if err != nil {
			return err
		}
		n.server = server
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, n.metrics)
		if err != nil {
			n.logger.Warn("telemetry endpoint disabled", "error", err)
		} else {
			n.endpoint = endpoint
		}
	}

	n.buildBackups()
	return nil
}

// buildFeeds constructs every enabled inbound transport.
func (n *node) buildFeeds() error {
	settings := n.settings

	if settings.Feeds.TCP.Enabled {
		n.feeds = append(n.feeds, feed.NewTCPSource(settings.Feeds.TCP, n.bus))
	}
	if settings.Feeds.Stdin.Enabled {
		n.feeds = append(n.feeds, feed.NewStdinSource(n.bus))
	}
	if settings.Feeds.MQTT.Enabled {
		mqttSource, err := feed.NewMQTTSource(settings.Feeds.MQTT, n.bus)
		if err != nil {
			return err
		}
		n.feeds = append(n.feeds, mqttSource)
	}

	if len(n.feeds) == 0 {
		n.logger.Warn("no event feeds enabled, calls arrive only through the HTTP API")
	}
	return nil
}

func (n *node) buildMetrics() error {
	opts := []observability.Option{
		observability.WithTracker(n.tracker.Stats),
		observability.WithAnnouncer(n.announcer.Stats),
		observability.WithEventBus(n.bus),
		observability.WithHistory(n.store.Len, n.store.FlushStats),
		observability.WithNotificationWorker(n.worker.GetStats),
		observability.WithPushDispatcher(n.dispatcher.Stats),
	}
	if len(n.feeds) > 0 {
		statsFns := make([]func() feed.Stats, 0, len(n.feeds))
		for _, src := range n.feeds {
			statsFns = append(statsFns, src.Stats)
		}
		opts = append(opts, observability.WithFeeds(statsFns...))
	}
	if n.publisher != nil {
		opts = append(opts, observability.WithPublisher(n.publisher.Stats))
	}
	if n.monitor != nil {
		opts = append(opts, observability.WithMonitor(n.monitor.Status))
	}

	metrics, err := observability.New(opts...)
	if err != nil {
		return err
	}
	n.metrics = metrics
	return nil
}

// buildBackups wires the history snapshot scheduler. A broken backup
// configuration is reported but never stops the call pipeline.
func (n *node) buildBackups() {
	settings := n.settings
	if !settings.Backup.Enabled {
		return
	}

	manager, err := backup.NewManager(&settings.Backup, settings.History.Path,
		backup.WithFlush(n.store.Flush))
	if err != nil {
		n.logger.Error("history backups disabled", "error", err)
		return
	}

	scheduler, err := backup.NewScheduler(manager.RunBackup, backupInterval(settings.Backup.Interval, n.logger))
	if err != nil {
		n.logger.Error("history backups disabled", "error", err)
		return
	}
	n.backups = scheduler
}

// start brings the built components to life in data-flow order:
// outbound sides first, inbound feeds last.
func (n *node) start() error {
	n.dispatcher.Start()

	if n.publisher != nil {
		n.publisher.Start()
	}

	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return err
		}
	}

	if n.endpoint != nil {
		if err := n.endpoint.Start(); err != nil {
			n.logger.Warn("telemetry endpoint failed to start", "error", err)
			n.endpoint = nil
		}
	}

	if n.backups != nil {
		n.backups.Start()
	}

	if n.monitor != nil {
		n.monitor.Start()
	}

	for _, src := range n.feeds {
		if err := src.Start(); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops everything in reverse data-flow order: operator and
// hardware input first, then the dispatcher stream, then the outbound
// sides, the durable store last. Safe on a partially built node.
func (n *node) shutdown() {
	if n.server != nil {
		_ = n.server.Shutdown()
	}
	for _, src := range n.feeds {
		src.Stop()
	}
	if n.bus != nil {
		_ = n.bus.Shutdown(busShutdownTimeout)
	}
	if n.announcer != nil {
		if err := n.announcer.StopWithTimeout(announcerStopTimeout); err != nil {
			n.logger.Warn("announcer did not drain in time", "error", err)
		}
	}
	if n.publisher != nil {
		n.publisher.Stop()
	}
	if n.endpoint != nil {
		_ = n.endpoint.Stop()
	}
	if n.backups != nil {
		n.backups.Stop()
	}
	if n.monitor != nil {
		n.monitor.Stop()
	}
	if n.dispatcher != nil {
		n.dispatcher.Stop()
	}
	if n.service != nil {
		n.service.Stop()
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.logger.Error("final history flush failed", "error", err)
		}
	}
	if n.player != nil {
		n.player.Close()
	}

	telemetry.Flush(telemetryFlushTimeout)

	n.logger.Info("nurse call console stopped")
	if n.closeMainLog != nil {
		_ = n.closeMainLog()
	}
}

// reloadRegistry re-reads the code registry in place, keeping the old
// snapshot when the new file does not parse.
func (n *node) reloadRegistry() {
	if err := n.registry.Load(); err != nil {
		n.logger.Error("registry reload failed, keeping previous snapshot", "error", err)
		return
	}
	preloadCatalog(n.player, n.registry)
	n.logger.Info("registry reloaded", "codes", n.registry.Len())
}

// preloadCatalog decodes the registry's sound catalog into the playback
// cache, so the first announcement of each file never pays the decode on
// the drain path. Per-file failures are the cache's to log and swallow.
func preloadCatalog(player *audio.Player, reg *registry.Registry) {
	if catalog := reg.SoundCatalog(); len(catalog) > 0 {
		player.Preload(catalog)
	}
}

// logStartup reports version and host details once at boot.
func logStartup(settings *conf.Settings, logger *slog.Logger) {
	attrs := []any{
		"version", settings.Version,
		"build_date", settings.BuildDate,
		"node", settings.Main.Name,
	}
	if info, err := host.Info(); err == nil {
		attrs = append(attrs, "os", info.OS, "platform", info.Platform, "platform_version", info.PlatformVersion)
	}
	if conf.RunningInContainer() {
		attrs = append(attrs, "container", true)
	}
	logger.Info("starting CareBell-Go", attrs...)
}

// serviceConfig maps the notification settings onto the service
// configuration, keeping defaults for anything unset.
func serviceConfig(settings *conf.Settings) *notification.ServiceConfig {
	cfg := notification.DefaultServiceConfig()
	cfg.Debug = settings.Notification.Debug || settings.Debug
	if settings.Notification.MaxStored > 0 {
		cfg.MaxNotifications = settings.Notification.MaxStored
	}
	if settings.Notification.MaxPerMinute > 0 {
		cfg.RatePerMinute = settings.Notification.MaxPerMinute
	}
	return cfg
}

// backupInterval parses the configured snapshot interval, falling back
// to one day on an empty or unparseable value.
func backupInterval(raw string, logger *slog.Logger) time.Duration {
	if raw == "" {
		return defaultBackupInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		logger.Warn("invalid backup interval, using default",
			"configured", raw, "default", defaultBackupInterval)
		return defaultBackupInterval
	}
	return interval
}
