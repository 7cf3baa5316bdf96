package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      *APIError   `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// APIError is the error half of an envelope: a stable machine-checkable kind
// plus a human message. Correlation ids tie a response to the server log.
type APIError struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// Pagination describes a sliced list response.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// bindAndValidate decodes the JSON body into req and runs the registered
// struct validation, converting failures into validation errors.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return c.Validate(req)
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, &Envelope{Success: true, Data: data})
}

func created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, &Envelope{Success: true, Data: data})
}

func okPaged(c echo.Context, data any, page *Pagination) error {
	return c.JSON(http.StatusOK, &Envelope{Success: true, Data: data, Pagination: page})
}

// httpStatusFor maps error categories onto HTTP status codes. State
// precondition failures surface as 400 per the error contract; uniqueness
// conflicts as 409.
func httpStatusFor(err error) (int, string) {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest, "validation_failure"
	case errors.CategoryState:
		return http.StatusBadRequest, "state_conflict"
	case errors.CategoryConflict:
		return http.StatusConflict, "conflict"
	case errors.CategoryNotFound:
		return http.StatusNotFound, "not_found"
	case errors.CategoryUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case errors.CategoryForbidden:
		return http.StatusForbidden, "forbidden"
	case errors.CategoryLimit:
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "unexpected"
	}
}

// errorHandler renders every handler error as an envelope. Internal detail
// stays in the log; the client sees the kind, the message and a correlation
// id, and for unexpected failures only a generic message unless debug is on.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	correlationID := uuid.New().String()[:8]
	status, kind := httpStatusFor(err)

	var message string
	if httpErr, isHTTP := err.(*echo.HTTPError); isHTTP {
		status = httpErr.Code
		kind = "http_error"
		message = http.StatusText(status)
	} else {
		message = err.Error()
	}
	if status == http.StatusInternalServerError && !s.Settings.Debug {
		message = "internal server error"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(c.Request().Context(), level, "request failed",
		"correlation_id", correlationID,
		"method", c.Request().Method,
		"path", c.Path(),
		"status", status,
		"kind", kind,
		"error", err)

	resp := &Envelope{
		Success: false,
		Error: &APIError{
			Kind:          kind,
			Message:       message,
			CorrelationID: correlationID,
		},
	}
	if jerr := c.JSON(status, resp); jerr != nil {
		s.log.Error("failed to write error response", "correlation_id", correlationID, "error", jerr)
	}
}
