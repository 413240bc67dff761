package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// registryInfo describes the loaded code directory.
type registryInfo struct {
	Path     string `json:"path"`
	Codes    int    `json:"codes"`
	LoadedAt string `json:"loaded_at,omitempty"`
}

func (s *Server) registryInfo() registryInfo {
	info := registryInfo{
		Path:  s.directory.Path(),
		Codes: s.directory.Len(),
	}
	if loadedAt := s.directory.LoadedAt(); !loadedAt.IsZero() {
		info.LoadedAt = loadedAt.Format(time.RFC3339)
	}
	return info
}

// getRegistry handles GET /api/v1/registry.
func (s *Server) getRegistry(ctx echo.Context) error {
	if s.directory == nil {
		return serviceUnavailable(ctx, "code registry")
	}
	return ctx.JSON(http.StatusOK, s.registryInfo())
}

// reloadRegistry handles POST /api/v1/registry/reload. The previous
// snapshot stays in place when the reload fails.
func (s *Server) reloadRegistry(ctx echo.Context) error {
	if s.directory == nil {
		return serviceUnavailable(ctx, "code registry")
	}
	if err := s.directory.Load(); err != nil {
		s.logger.Error("registry reload failed", "error", err)
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": "reload failed, previous registry kept",
		})
	}
	if s.audio != nil {
		s.audio.Preload(s.directory.SoundCatalog())
	}
	info := s.registryInfo()
	s.logger.Info("registry reloaded", "codes", info.Codes, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, info)
}
