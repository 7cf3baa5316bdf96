package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/examtrack/examtrack-go/internal/notification"
)

const (
	streamRateLimitWindow = 1 * time.Minute
	streamRateLimitPerWin = 10 // reconnect attempts allowed per window
	streamRateLimitBurst  = 15 // burst allowance for quick navigation
)

func (s *Server) initNotificationRoutes() {
	g := s.Group.Group("/notifications")

	// Reconnect storms from misbehaving clients are cut off here rather than
	// at the session registry.
	streamLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      streamRateLimitPerWin,
				Burst:     streamRateLimitBurst,
				ExpiresIn: streamRateLimitWindow,
			},
		),
	})

	g.GET("", s.handleListNotifications)
	g.GET("/unread-count", s.handleUnreadCount)
	g.GET("/stream", s.handleNotificationStream, streamLimiter)
	g.GET("/:id", s.handleGetNotification)
	g.POST("/:id/read", s.handleMarkNotificationRead)
	g.POST("/:id/acknowledge", s.handleAcknowledgeNotification)
	g.POST("/:id/dismiss", s.handleDismissNotification)
}

func (s *Server) handleListNotifications(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	filter := &notification.FilterOptions{
		Recipient: identity.UserID,
		Limit:     limit,
		Offset:    offset,
	}
	if status := c.QueryParam("status"); status != "" {
		filter.Status = []notification.Status{notification.Status(status)}
	}
	if notifType := c.QueryParam("type"); notifType != "" {
		filter.Types = []notification.Type{notification.Type(notifType)}
	}

	results, err := s.Notifier.List(filter)
	if err != nil {
		return err
	}
	return okPaged(c, results, &Pagination{Limit: limit, Offset: offset, Count: len(results)})
}

func (s *Server) handleUnreadCount(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	count, err := s.Notifier.UnreadCount(identity.UserID)
	if err != nil {
		return err
	}
	return ok(c, map[string]int{"unread": count})
}

func (s *Server) handleGetNotification(c echo.Context) error {
	result, err := s.Notifier.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, result)
}

func (s *Server) handleMarkNotificationRead(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.Notifier.MarkAsRead(c.Param("id"), identity.UserID); err != nil {
		return err
	}
	return ok(c, map[string]string{"status": string(notification.StatusRead)})
}

func (s *Server) handleAcknowledgeNotification(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.Notifier.MarkAsAcknowledged(c.Param("id"), identity.UserID); err != nil {
		return err
	}
	return ok(c, map[string]string{"status": string(notification.StatusAcknowledged)})
}

func (s *Server) handleDismissNotification(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.Notifier.Dismiss(c.Param("id"), identity.UserID); err != nil {
		return err
	}
	return ok(c, map[string]string{"status": string(notification.StatusDismissed)})
}

// handleNotificationStream serves the live push channel over SSE. The session
// is authenticated once at connect time by the route middleware; from then on
// the server only writes. Heartbeats keep intermediaries from closing the
// connection, and a maximum duration bounds each session so stale connections
// re-authenticate.
func (s *Server) handleNotificationStream(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, canFlush := res.Writer.(http.Flusher)
	if !canFlush {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	session := s.Notifier.Connect(identity.UserID, identity.Role, identity.AdminID)
	defer s.Notifier.Disconnect(session)

	s.log.Info("push stream connected",
		"user_id", identity.UserID,
		"role", identity.Role,
		"session_id", session.ID)

	heartbeat := time.NewTicker(s.Settings.Push.HeartbeatInterval)
	defer heartbeat.Stop()
	deadline := time.NewTimer(s.Settings.Push.MaxConnDuration)
	defer deadline.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Context().Done():
			return nil
		case <-deadline.C:
			fmt.Fprintf(res, "event: reconnect\ndata: {}\n\n")
			flusher.Flush()
			return nil
		case <-heartbeat.C:
			fmt.Fprintf(res, ": heartbeat\n\n")
			flusher.Flush()
		case notif, open := <-session.Notifications():
			if !open {
				return nil
			}
			payload, merr := json.Marshal(notif)
			if merr != nil {
				s.log.Error("failed to marshal notification for stream",
					"notification_id", notif.ID, "error", merr)
				continue
			}
			fmt.Fprintf(res, "event: notification\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
