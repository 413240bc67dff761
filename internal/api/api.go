// Package api serves the operator HTTP surface: the active call board,
// history queries, audio controls, registry reload and the in-app
// notification stream. Destructive endpoints are guarded by a bearer
// token; everything else is open so a ward kiosk can render without
// credentials.
package api

import (
	"log/slog"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// Default timeouts and limits for the HTTP server.
const (
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultBodyLimit = "1M"

	// defaultMaxConnections caps concurrent clients when the
	// configuration does not set a limit.
	defaultMaxConnections = 64
)

func getLoggerSafe() *slog.Logger {
	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}
	return logger
}

// Config holds the HTTP server configuration, consolidated from the
// application settings for server initialization.
type Config struct {
	Host string // host to bind to, empty for all interfaces
	Port string // port to listen on

	// MaxConnections caps concurrent client connections at the
	// listener. Zero applies the default, negative disables the cap.
	MaxConnections int

	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BodyLimit is the maximum accepted request body size ("1M").
	BodyLimit string

	Debug bool
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            "8080",
		MaxConnections:  defaultMaxConnections,
		ReadTimeout:     defaultReadTimeout,
		IdleTimeout:     defaultIdleTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		BodyLimit:       defaultBodyLimit,
	}
}

// ConfigFromSettings bridges conf.Settings to the server config.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	cfg.Port = settings.WebServer.Port
	if settings.WebServer.MaxConnections != 0 {
		cfg.MaxConnections = settings.WebServer.MaxConnections
	}
	cfg.Debug = settings.WebServer.Debug || settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.Newf("web server port is required").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.ReadTimeout <= 0 {
		return errors.Newf("read timeout must be positive").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}
