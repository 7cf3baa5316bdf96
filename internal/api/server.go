// Package api exposes the role-gated HTTP surface over sheets, flags,
// incidents, notifications and access grants, plus the live push channel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/api/auth"
	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/incident"
	"github.com/examtrack/examtrack-go/internal/logging"
	"github.com/examtrack/examtrack-go/internal/notification"
	"github.com/examtrack/examtrack-go/internal/sheet"
)

// Server wires the HTTP surface to the domain services.
type Server struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	Ledger    *sheet.Ledger
	Incidents *incident.Tracker
	Gate      *access.Gate
	Notifier  *notification.Service

	verifier auth.Verifier
	log      *slog.Logger
}

// requestValidator adapts go-playground/validator to echo's Validator hook.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// New creates the API server and registers every route under /api/v1.
func New(settings *conf.Settings, ds datastore.Interface, ledger *sheet.Ledger, incidents *incident.Tracker, gate *access.Gate, notifier *notification.Service, verifier auth.Verifier) *Server {
	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = settings.WebServer.Debug
	e.Validator = &requestValidator{validate: validator.New()}
	if settings.Security.HandshakeTimeout > 0 {
		// slow or stalled clients must complete their handshake within the
		// window; a blanket read timeout would kill long-lived push streams
		e.Server.ReadHeaderTimeout = settings.Security.HandshakeTimeout
	}

	s := &Server{
		Echo:      e,
		DS:        ds,
		Settings:  settings,
		Ledger:    ledger,
		Incidents: incidents,
		Gate:      gate,
		Notifier:  notifier,
		verifier:  verifier,
		log:       logger,
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/api/v1/health", s.handleHealth)

	s.Group = e.Group("/api/v1", auth.Middleware(verifier))
	s.initSheetRoutes()
	s.initFlagRoutes()
	s.initIncidentRoutes()
	s.initNotificationRoutes()
	s.initAccessRoutes()

	return s
}

// Start begins serving on the configured host and port. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.Settings.WebServer.Host, s.Settings.WebServer.Port)
	s.log.Info("http server starting", "addr", addr)
	if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return errors.New(err).
			Component("api").
			Category(errors.CategorySystem).
			Context("addr", addr).
			Build()
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server stopping")
	return s.Echo.Shutdown(ctx)
}

// requestLogger emits one structured line per completed request.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			} else if v.Status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			s.log.Log(c.Request().Context(), level, "request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP)
			return nil
		},
	})
}

// handleHealth reports liveness plus a cheap datastore connectivity probe.
func (s *Server) handleHealth(c echo.Context) error {
	response := map[string]any{
		"status":     "ok",
		"version":    s.Settings.Version,
		"build_date": s.Settings.BuildDate,
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	dbStatus := "connected"
	if err := s.DS.Ping(); err != nil {
		dbStatus = "disconnected"
		response["database_error"] = err.Error()
	}
	response["database_status"] = dbStatus

	return ok(c, response)
}

// identity extracts the authenticated caller or fails unauthorized. The auth
// middleware guarantees presence on gated routes; this guards direct handler
// reuse in tests.
func (s *Server) identity(c echo.Context) (*auth.Identity, error) {
	identity, okAuth := auth.IdentityFrom(c)
	if !okAuth {
		return nil, errors.Newf("request is not authenticated").
			Component("api").
			Category(errors.CategoryUnauthorized).
			Build()
	}
	return identity, nil
}

// requireCapability runs an access-gate check and converts a denial into a
// forbidden error carrying the gate's explanation.
func (s *Server) requireCapability(staffID string, scope access.Scope, capability access.Capability) error {
	decision, err := s.Gate.CanAct(staffID, scope, capability)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errors.Newf("capability %s denied: %s", capability, decision.Reason).
			Component("api").
			Category(errors.CategoryForbidden).
			Context("staff_id", staffID).
			Context("capability", string(capability)).
			Build()
	}
	return nil
}
