package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	// sseHeartbeatInterval keeps intermediaries from reaping an idle
	// stream.
	sseHeartbeatInterval = 30 * time.Second

	// sseWriteTimeout bounds a single write to a slow client.
	sseWriteTimeout = 10 * time.Second

	// streamConnectRate limits stream connection attempts per client,
	// ten per minute absorbs reconnect loops without locking out a
	// flapping kiosk. The burst must be set explicitly, the store
	// truncates a fractional rate to a zero burst otherwise.
	streamConnectRate   = 10.0 / 60.0
	streamConnectBurst  = 5
	streamConnectWindow = 3 * time.Minute
)

// streamRateLimiter caps how often one client may open the stream.
func streamRateLimiter() echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(
			echomw.RateLimiterMemoryStoreConfig{
				Rate:      streamConnectRate,
				Burst:     streamConnectBurst,
				ExpiresIn: streamConnectWindow,
			},
		),
		IdentifierExtractor: echomw.DefaultRateLimiterConfig.IdentifierExtractor,
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many stream connection attempts, wait before retrying",
			})
		},
	})
}

// streamNotifications handles GET /api/v1/notifications/stream. Each
// client gets its own subscription; the handler returns when the
// client disconnects or the notification service shuts down.
func (s *Server) streamNotifications(ctx echo.Context) error {
	if s.notifications == nil {
		return serviceUnavailable(ctx, "notification center")
	}

	ctx.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	ctx.Response().Header().Set("Cache-Control", "no-cache")
	ctx.Response().Header().Set("Connection", "keep-alive")
	ctx.Response().Header().Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)

	notifications, serviceCtx := s.notifications.Subscribe()
	defer s.notifications.Unsubscribe(notifications)

	clientIP := ctx.RealIP()
	s.logger.Debug("notification stream opened", "ip", clientIP)

	if err := s.sendSSE(ctx, "connected", map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := s.sendSSE(ctx, "notification", n); err != nil {
				s.logger.Debug("notification stream write failed",
					"ip", clientIP, "error", err)
				return nil
			}
		case <-heartbeat.C:
			if err := s.sendSSE(ctx, "heartbeat", map[string]int64{
				"time": time.Now().Unix(),
			}); err != nil {
				return nil
			}
		case <-ctx.Request().Context().Done():
			s.logger.Debug("notification stream closed", "ip", clientIP)
			return nil
		case <-serviceCtx.Done():
			return nil
		}
	}
}

// sendSSE writes one event-stream message and flushes it. Each write
// carries its own deadline so one stalled client cannot pin the
// handler.
func (s *Server) sendSSE(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if conn, ok := ctx.Response().Writer.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = conn.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	}

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if flusher, ok := ctx.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
