package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carebell/carebell-go/internal/history"
)

// timeParamLayouts are the accepted query time formats, tried in order.
var timeParamLayouts = []string{time.RFC3339, time.DateOnly}

// parseTimeParam parses an optional query time. A bare date is taken
// as local midnight, matching what operators type into the UI.
func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeParamLayouts {
		t, err := time.ParseInLocation(layout, value, time.Local)
		if err == nil {
			return &t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// historyResponse is the call log payload.
type historyResponse struct {
	Count int              `json:"count"`
	Calls []history.Record `json:"calls"`
}

// getHistory handles GET /api/v1/history. Filters: code, from, to.
// Soft-deleted records stay hidden unless includeDeleted=true.
func (s *Server) getHistory(ctx echo.Context) error {
	if s.history == nil {
		return serviceUnavailable(ctx, "call history")
	}

	from, err := parseTimeParam(ctx.QueryParam("from"))
	if err != nil {
		return badRequest(ctx, "invalid from time, use RFC3339 or YYYY-MM-DD")
	}
	to, err := parseTimeParam(ctx.QueryParam("to"))
	if err != nil {
		return badRequest(ctx, "invalid to time, use RFC3339 or YYYY-MM-DD")
	}
	includeDeleted, _ := strconv.ParseBool(ctx.QueryParam("includeDeleted"))

	records := s.history.List(history.Filter{
		Code:           ctx.QueryParam("code"),
		From:           from,
		To:             to,
		IncludeDeleted: includeDeleted,
	})
	if records == nil {
		records = []history.Record{}
	}

	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			return badRequest(ctx, "invalid limit")
		}
		// Records are in file order, oldest first; the limit keeps
		// the most recent tail.
		if limit < len(records) {
			records = records[len(records)-limit:]
		}
	}

	return ctx.JSON(http.StatusOK, historyResponse{
		Count: len(records),
		Calls: records,
	})
}

// deleteHistory handles DELETE /api/v1/history. Records in the from/to
// window are soft deleted with the given reason; omitted bounds are
// open ended, so a bare DELETE clears the whole log.
func (s *Server) deleteHistory(ctx echo.Context) error {
	if s.history == nil {
		return serviceUnavailable(ctx, "call history")
	}

	from, err := parseTimeParam(ctx.QueryParam("from"))
	if err != nil {
		return badRequest(ctx, "invalid from time, use RFC3339 or YYYY-MM-DD")
	}
	to, err := parseTimeParam(ctx.QueryParam("to"))
	if err != nil {
		return badRequest(ctx, "invalid to time, use RFC3339 or YYYY-MM-DD")
	}
	reason := ctx.QueryParam("reason")
	if reason == "" {
		reason = "operator"
	}

	deleted, err := s.history.SoftDeleteRange(from, to, reason)
	if err != nil {
		s.logger.Error("history delete failed", "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "delete failed",
		})
	}
	s.logger.Info("history range soft deleted",
		"deleted", deleted,
		"reason", reason,
		"ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, map[string]string{"error": message})
}
