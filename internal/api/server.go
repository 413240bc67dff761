package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/notification"
	"github.com/carebell/carebell-go/internal/tracker"
)

// CallBoard is the live call view the API serves.
type CallBoard interface {
	ActiveSnapshot() []tracker.ActiveCall
	Connected() bool
	EncloseLatest() (string, error)
	EncloseAll() (int, error)
	Stats() tracker.Stats
}

// CallLog is the durable history surface.
type CallLog interface {
	List(filter history.Filter) []history.Record
	SoftDeleteRange(from, to *time.Time, reason string) (int, error)
	Len() int
	FlushStats() history.FlushStats
}

// AudioControl covers the playback device operations exposed over HTTP.
type AudioControl interface {
	EnsureUnlocked() bool
	Unlocked() bool
	SetVolume(v float64)
	Volume() float64
	EffectiveVolume() float64
	Preload(names []string)
}

// AnnouncerControl kicks and inspects the playback scheduler.
type AnnouncerControl interface {
	Kick()
	QueueDepth() int
	Stats() announcer.Stats
}

// NotificationCenter is the slice of the notification service the API
// serves to browser clients.
type NotificationCenter interface {
	List(filter *notification.FilterOptions) ([]*notification.Notification, error)
	MarkAsRead(id string) error
	Delete(id string) error
	UnreadCount() (int, error)
	Subscribe() (<-chan *notification.Notification, context.Context)
	Unsubscribe(ch <-chan *notification.Notification)
	ResolvePlaybackBlocked() int
}

// Directory is the reloadable code registry view.
type Directory interface {
	Load() error
	Len() int
	LoadedAt() time.Time
	Path() string
	SoundCatalog() []string
}

// Server is the operator HTTP server. Collaborators are optional;
// endpoints whose collaborator is absent answer 503.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   *slog.Logger

	board         CallBoard
	history       CallLog
	audio         AudioControl
	announcer     AnnouncerControl
	notifications NotificationCenter
	directory     Directory
	metrics       http.Handler

	accessLog      *slog.Logger
	closeAccessLog func() error

	listener  net.Listener
	startTime time.Time
	mu        sync.Mutex
	stopOnce  sync.Once
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithCallBoard wires the call tracker view.
func WithCallBoard(b CallBoard) Option {
	return func(s *Server) { s.board = b }
}

// WithCallLog wires the durable history store.
func WithCallLog(l CallLog) Option {
	return func(s *Server) { s.history = l }
}

// WithAudio wires the playback device controls.
func WithAudio(a AudioControl) Option {
	return func(s *Server) { s.audio = a }
}

// WithAnnouncer wires the playback scheduler.
func WithAnnouncer(a AnnouncerControl) Option {
	return func(s *Server) { s.announcer = a }
}

// WithNotifications wires the notification service.
func WithNotifications(n NotificationCenter) Option {
	return func(s *Server) { s.notifications = n }
}

// WithDirectory wires the reloadable code registry.
func WithDirectory(d Directory) Option {
	return func(s *Server) { s.directory = d }
}

// WithMetricsHandler mounts a Prometheus style handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the HTTP server from the application settings.
func New(settings *conf.Settings, opts ...Option) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		settings:  settings,
		logger:    getLoggerSafe(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.accessLog = s.logger
	if settings.WebServer.Log.Enabled {
		webLogger, closeFunc, err := logging.NewFileLogger(settings.WebServer.Log, "web", slog.LevelInfo)
		if err != nil {
			s.logger.Warn("failed to open web access log, requests go to the service log",
				"path", settings.WebServer.Log.Path, "error", err)
		} else {
			s.accessLog = webLogger
			s.closeAccessLog = closeFunc
		}
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	// No server-wide write timeout: the notification stream holds its
	// connection open and every stream write sets its own deadline.

	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Info("HTTP server initialized",
		"address", config.Address(),
		"max_connections", config.MaxConnections,
		"debug", config.Debug)
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(requestLogger(s.accessLog))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
	// Compressing an event stream defeats per-message flushing.
	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Path(), "/stream")
		},
	}))
	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
}

// requestLogger adapts echo's request logging onto slog.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("ip", v.RemoteIP),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	})
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.liveness)

	g := s.echo.Group("/api/v1")
	g.GET("/calls/active", s.getActiveCalls)
	g.POST("/calls/enclose-latest", s.encloseLatest, s.requireAuth)
	g.POST("/calls/enclose-all", s.encloseAll, s.requireAuth)

	g.GET("/history", s.getHistory)
	g.DELETE("/history", s.deleteHistory, s.requireAuth)

	// Unlock carries no credentials: it forwards the operator's first
	// browser gesture and must work before anyone finds the token.
	g.POST("/audio/unlock", s.unlockAudio)
	g.GET("/audio/status", s.getAudioStatus)
	g.PUT("/audio/volume", s.setVolume, s.requireAuth)

	g.GET("/notifications", s.listNotifications)
	g.GET("/notifications/stream", s.streamNotifications, streamRateLimiter())
	g.PUT("/notifications/:id/read", s.markNotificationRead)
	g.DELETE("/notifications/:id", s.dismissNotification)

	g.GET("/registry", s.getRegistry)
	g.POST("/registry/reload", s.reloadRegistry, s.requireAuth)

	g.GET("/health", s.getHealth)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// liveness answers the plain load balancer probe.
func (s *Server) liveness(ctx echo.Context) error {
	uptime := time.Since(s.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.settings.Version,
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start opens the listener and begins serving in the background.
// The listener is capped at MaxConnections concurrent clients.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", s.config.Address()).
			Build()
	}
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}

	s.mu.Lock()
	s.listener = listener
	s.echo.Listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	s.logger.Info("HTTP server listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Echo exposes the router for tests and embedding.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Shutdown stops the server, waiting up to the configured timeout for
// in-flight requests. Safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.echo.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("HTTP server shutdown", "error", shutdownErr)
			err = shutdownErr
			return
		}
		if s.closeAccessLog != nil {
			_ = s.closeAccessLog()
		}
		s.logger.Info("HTTP server shutdown complete")
	})
	return err
}
