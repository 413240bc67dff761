package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/notification"
)

// notificationsResponse is the banner list payload.
type notificationsResponse struct {
	Count  int                          `json:"count"`
	Unread int                          `json:"unread"`
	Items  []*notification.Notification `json:"items"`
}

// listNotifications handles GET /api/v1/notifications. Filters: status
// (comma separated), component, limit, offset.
func (s *Server) listNotifications(ctx echo.Context) error {
	if s.notifications == nil {
		return serviceUnavailable(ctx, "notification center")
	}

	filter := &notification.FilterOptions{
		Component: ctx.QueryParam("component"),
	}
	for _, status := range strings.Split(ctx.QueryParam("status"), ",") {
		status = strings.TrimSpace(status)
		if status == "" {
			continue
		}
		switch notification.Status(status) {
		case notification.StatusUnread, notification.StatusRead, notification.StatusAcknowledged:
			filter.Status = append(filter.Status, notification.Status(status))
		default:
			return badRequest(ctx, "invalid status "+strconv.Quote(status))
		}
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			return badRequest(ctx, "invalid limit")
		}
		filter.Limit = limit
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		offset, err := strconv.Atoi(offsetParam)
		if err != nil || offset < 0 {
			return badRequest(ctx, "invalid offset")
		}
		filter.Offset = offset
	}

	items, err := s.notifications.List(filter)
	if err != nil {
		s.logger.Error("notification list failed", "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "listing failed",
		})
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	unread, err := s.notifications.UnreadCount()
	if err != nil {
		unread = 0
	}

	return ctx.JSON(http.StatusOK, notificationsResponse{
		Count:  len(items),
		Unread: unread,
		Items:  items,
	})
}

// markNotificationRead handles PUT /api/v1/notifications/:id/read.
func (s *Server) markNotificationRead(ctx echo.Context) error {
	if s.notifications == nil {
		return serviceUnavailable(ctx, "notification center")
	}
	id := ctx.Param("id")
	if err := s.notifications.MarkAsRead(id); err != nil {
		if errors.IsNotFound(err) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "notification not found",
			})
		}
		return badRequest(ctx, "invalid notification id")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// dismissNotification handles DELETE /api/v1/notifications/:id.
func (s *Server) dismissNotification(ctx echo.Context) error {
	if s.notifications == nil {
		return serviceUnavailable(ctx, "notification center")
	}
	id := ctx.Param("id")
	if err := s.notifications.Delete(id); err != nil {
		if errors.IsNotFound(err) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "notification not found",
			})
		}
		return badRequest(ctx, "invalid notification id")
	}
	return ctx.NoContent(http.StatusNoContent)
}
