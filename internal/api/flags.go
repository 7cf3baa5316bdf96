package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

func (s *Server) initFlagRoutes() {
	g := s.Group.Group("/sheets/:id/flags")
	g.POST("", s.handleAddFlag)
	g.POST("/:index/resolve", s.handleResolveFlag)
	g.POST("/resolve-all", s.handleResolveAllFlags)

	s.Group.POST("/flags/bulk-resolve", s.handleBulkResolveFlags)
}

type addFlagRequest struct {
	Type        datastore.FlagType     `json:"type" validate:"required"`
	Severity    datastore.FlagSeverity `json:"severity" validate:"required"`
	Description string                 `json:"description" validate:"required"`
}

func (s *Server) handleAddFlag(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req addFlagRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Ledger.AddFlag(c.Param("id"), req.Type, req.Severity, req.Description, identity.UserID)
	if err != nil {
		return err
	}
	return created(c, result)
}

type resolveFlagRequest struct {
	ResolutionNotes string `json:"resolutionNotes"`
}

func (s *Server) handleResolveFlag(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	index, err := pathInt(c, "index")
	if err != nil {
		return err
	}

	var req resolveFlagRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Ledger.ResolveFlag(c.Param("id"), index, identity.UserID, req.ResolutionNotes)
	if err != nil {
		return err
	}
	return ok(c, result)
}

func (s *Server) handleResolveAllFlags(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req resolveFlagRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resolved, err := s.Ledger.ResolveAllFlags(c.Param("id"), identity.UserID, req.ResolutionNotes)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"resolved": resolved})
}

type bulkResolveRequest struct {
	SheetIDs        []string `json:"sheetIds" validate:"required,min=1"`
	ResolutionNotes string   `json:"resolutionNotes"`
}

func (s *Server) handleBulkResolveFlags(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req bulkResolveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resolved, err := s.Ledger.BulkResolveFlags(req.SheetIDs, identity.UserID, req.ResolutionNotes)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"resolved": resolved})
}

// pathInt parses a non-negative integer path parameter.
func pathInt(c echo.Context, name string) (int, error) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value < 0 {
		return 0, errors.Newf("path parameter %s must be a non-negative integer", name).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return value, nil
}
