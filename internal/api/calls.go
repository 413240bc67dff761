package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/tracker"
)

// activeCallsResponse is the operator board payload.
type activeCallsResponse struct {
	Connected bool                 `json:"connected"`
	Count     int                  `json:"count"`
	Calls     []tracker.ActiveCall `json:"calls"`
}

// getActiveCalls handles GET /api/v1/calls/active.
func (s *Server) getActiveCalls(ctx echo.Context) error {
	if s.board == nil {
		return serviceUnavailable(ctx, "call tracker")
	}
	calls := s.board.ActiveSnapshot()
	if calls == nil {
		calls = []tracker.ActiveCall{}
	}
	return ctx.JSON(http.StatusOK, activeCallsResponse{
		Connected: s.board.Connected(),
		Count:     len(calls),
		Calls:     calls,
	})
}

// encloseLatest handles POST /api/v1/calls/enclose-latest. The closure
// travels the ordinary event stream, so the call is still listed as
// active until the dispatcher processes it.
func (s *Server) encloseLatest(ctx echo.Context) error {
	if s.board == nil {
		return serviceUnavailable(ctx, "call tracker")
	}
	code, err := s.board.EncloseLatest()
	if err != nil {
		if errors.IsNotFound(err) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "no active calls",
			})
		}
		s.logger.Error("enclose latest failed", "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "enclosure could not be queued",
		})
	}
	return ctx.JSON(http.StatusAccepted, map[string]string{"code": code})
}

// encloseAll handles POST /api/v1/calls/enclose-all.
func (s *Server) encloseAll(ctx echo.Context) error {
	if s.board == nil {
		return serviceUnavailable(ctx, "call tracker")
	}
	closed, err := s.board.EncloseAll()
	if err != nil {
		s.logger.Error("enclose all failed", "error", err, "closed", closed)
		return ctx.JSON(http.StatusInternalServerError, map[string]any{
			"error":  "enclosure could not be queued for every call",
			"closed": closed,
		})
	}
	return ctx.JSON(http.StatusAccepted, map[string]int{"closed": closed})
}

func serviceUnavailable(ctx echo.Context, component string) error {
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
		"error": component + " is not available",
	})
}
