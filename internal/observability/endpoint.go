package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
)

const (
	endpointReadTimeout     = 10 * time.Second
	endpointWriteTimeout    = 30 * time.Second
	endpointIdleTimeout     = 60 * time.Second
	endpointShutdownTimeout = 5 * time.Second
)

// Endpoint serves /metrics on its own listener for installs where the main
// web server is disabled or firewalled away from the scraper.
type Endpoint struct {
	addr    string
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewEndpoint builds a scrape endpoint from the telemetry settings. The
// caller decides whether telemetry is enabled; this only checks the address.
func NewEndpoint(settings *conf.Settings, m *Metrics) (*Endpoint, error) {
	if settings == nil || m == nil {
		return nil, errors.Newf("telemetry endpoint requires settings and metrics").
			Component("observability").
			Category(errors.CategoryValidation).
			Build()
	}
	addr := settings.Telemetry.Listen
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, errors.New(err).
			Component("observability").
			Category(errors.CategoryValidation).
			Context("listen", addr).
			Build()
	}
	return &Endpoint{
		addr:    addr,
		metrics: m,
		logger:  getLoggerSafe("telemetry"),
	}, nil
}

// Start binds the listener and serves /metrics until Stop is called.
func (e *Endpoint) Start() error {
	listener, err := net.Listen("tcp", e.addr)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("listen", e.addr).
			Build()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  endpointReadTimeout,
		WriteTimeout: endpointWriteTimeout,
		IdleTimeout:  endpointIdleTimeout,
	}

	e.mu.Lock()
	e.server = server
	e.listener = listener
	e.mu.Unlock()

	e.logger.Info("telemetry endpoint listening", "address", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("telemetry endpoint stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound address, nil before Start.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Stop drains in-flight scrapes and closes the listener.
func (e *Endpoint) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.mu.Lock()
		server := e.server
		e.mu.Unlock()
		if server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), endpointShutdownTimeout)
		defer cancel()
		err = server.Shutdown(ctx)
	})
	return err
}
