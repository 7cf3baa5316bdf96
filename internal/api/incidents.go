package api

import (
	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/notification"
)

func (s *Server) initIncidentRoutes() {
	g := s.Group.Group("/incidents")
	g.POST("", s.handleReportIncident)
	g.GET("/:id", s.handleGetIncident)
	g.POST("/:id/acknowledge", s.handleAcknowledgeIncident)
	g.POST("/:id/resolve", s.handleResolveIncident)
	g.POST("/:id/escalate", s.handleEscalateIncident)

	s.Group.GET("/exams/:examId/incidents", s.handleListIncidents)
	s.Group.GET("/exams/:examId/completion", s.handleCompletionStatus)
}

type reportIncidentRequest struct {
	ExamID    string                     `json:"examId" validate:"required"`
	StudentID string                     `json:"studentId" validate:"required"`
	ClassID   string                     `json:"classId" validate:"required"`
	Type      datastore.IncidentType     `json:"type" validate:"required"`
	Reason    string                     `json:"reason" validate:"required"`
	Priority  datastore.IncidentPriority `json:"priority"`
}

// capabilityForIncident maps an incident type to the class capability a staff
// member needs to report it.
func capabilityForIncident(incidentType datastore.IncidentType) access.Capability {
	switch incidentType {
	case datastore.IncidentAbsent:
		return access.CapMarkAbsent
	case datastore.IncidentMissingSheet:
		return access.CapMarkMissing
	default:
		return access.CapUpload
	}
}

func (s *Server) handleReportIncident(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req reportIncidentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.requireCapability(identity.UserID, access.Scope{ClassID: req.ClassID}, capabilityForIncident(req.Type)); err != nil {
		return err
	}

	result, err := s.Incidents.Report(req.ExamID, req.StudentID, req.Type, req.Reason, req.Priority, identity.UserID)
	if err != nil {
		return err
	}
	return created(c, result)
}

func (s *Server) handleGetIncident(c echo.Context) error {
	result, err := s.Incidents.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, result)
}

func (s *Server) handleListIncidents(c echo.Context) error {
	incidents, err := s.Incidents.ListByExam(c.Param("examId"))
	if err != nil {
		return err
	}
	return okPaged(c, incidents, &Pagination{Limit: len(incidents), Count: len(incidents)})
}

type acknowledgeIncidentRequest struct {
	Remarks string `json:"remarks"`
}

func (s *Server) handleAcknowledgeIncident(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(identity.Role); err != nil {
		return err
	}

	var req acknowledgeIncidentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Incidents.Acknowledge(c.Param("id"), identity.UserID, req.Remarks)
	if err != nil {
		return err
	}
	return ok(c, result)
}

type resolveIncidentRequest struct {
	ResolutionNotes string `json:"resolutionNotes" validate:"required"`
	CompletionNotes string `json:"completionNotes"`
}

func (s *Server) handleResolveIncident(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(identity.Role); err != nil {
		return err
	}

	var req resolveIncidentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Incidents.Resolve(c.Param("id"), identity.UserID, req.ResolutionNotes, req.CompletionNotes)
	if err != nil {
		return err
	}
	return ok(c, result)
}

type escalateIncidentRequest struct {
	EscalateTo string `json:"escalateTo" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

func (s *Server) handleEscalateIncident(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(identity.Role); err != nil {
		return err
	}

	var req escalateIncidentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Incidents.Escalate(c.Param("id"), req.EscalateTo, req.Reason)
	if err != nil {
		return err
	}
	return ok(c, result)
}

func (s *Server) handleCompletionStatus(c echo.Context) error {
	result, err := s.Incidents.CompletionStatusForExam(c.Param("examId"))
	if err != nil {
		return err
	}
	return ok(c, result)
}

// requireAdmin limits incident lifecycle changes to admin accounts.
func (s *Server) requireAdmin(role notification.Role) error {
	if role != notification.RoleAdmin {
		return errors.Newf("admin role required").
			Component("api").
			Category(errors.CategoryForbidden).
			Build()
	}
	return nil
}
