package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

func (s *Server) initAccessRoutes() {
	g := s.Group.Group("/access")
	g.GET("/grants/:staffId", s.handleGetGrant)
	g.PUT("/grants/:staffId", s.handlePutGrant)
	g.POST("/check", s.handleCheckAccess)
}

func (s *Server) handleGetGrant(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(identity.Role); err != nil {
		return err
	}

	grant, err := s.Gate.GetGrant(c.Param("staffId"))
	if err != nil {
		return err
	}
	return ok(c, grant)
}

type classCapabilityRequest struct {
	ClassID        string `json:"classId" validate:"required"`
	CanUpload      bool   `json:"canUpload"`
	CanMarkAbsent  bool   `json:"canMarkAbsent"`
	CanMarkMissing bool   `json:"canMarkMissing"`
	CanOverrideAI  bool   `json:"canOverrideAi"`
}

type subjectCapabilityRequest struct {
	SubjectID          string `json:"subjectId" validate:"required"`
	CanCreateQuestions bool   `json:"canCreateQuestions"`
	CanUploadSyllabus  bool   `json:"canUploadSyllabus"`
}

type putGrantRequest struct {
	AllClasses  bool                       `json:"allClasses"`
	AllSubjects bool                       `json:"allSubjects"`
	ExpiresAt   *time.Time                 `json:"expiresAt"`
	Classes     []classCapabilityRequest   `json:"classes" validate:"dive"`
	Subjects    []subjectCapabilityRequest `json:"subjects" validate:"dive"`
}

func (s *Server) handlePutGrant(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(identity.Role); err != nil {
		return err
	}

	var req putGrantRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	staffID := c.Param("staffId")
	grant, err := s.Gate.GetGrant(staffID)
	switch {
	case errors.IsNotFound(err):
		grant = &datastore.AccessGrant{
			ID:      uuid.New().String(),
			StaffID: staffID,
		}
	case err != nil:
		return err
	}

	grant.GrantedBy = identity.UserID
	grant.AllClasses = req.AllClasses
	grant.AllSubjects = req.AllSubjects
	grant.ExpiresAt = req.ExpiresAt
	grant.IsActive = true
	grant.Classes = grant.Classes[:0]
	for _, class := range req.Classes {
		grant.Classes = append(grant.Classes, datastore.ClassCapability{
			GrantID:        grant.ID,
			ClassID:        class.ClassID,
			CanUpload:      class.CanUpload,
			CanMarkAbsent:  class.CanMarkAbsent,
			CanMarkMissing: class.CanMarkMissing,
			CanOverrideAI:  class.CanOverrideAI,
		})
	}
	grant.Subjects = grant.Subjects[:0]
	for _, subject := range req.Subjects {
		grant.Subjects = append(grant.Subjects, datastore.SubjectCapability{
			GrantID:            grant.ID,
			SubjectID:          subject.SubjectID,
			CanCreateQuestions: subject.CanCreateQuestions,
			CanUploadSyllabus:  subject.CanUploadSyllabus,
		})
	}

	if err := s.Gate.SaveGrant(grant); err != nil {
		return err
	}
	return ok(c, grant)
}

type checkAccessRequest struct {
	ClassID    string            `json:"classId"`
	SubjectID  string            `json:"subjectId"`
	Capability access.Capability `json:"capability" validate:"required"`
}

// handleCheckAccess lets a client ask why an action would be allowed or
// denied without performing it.
func (s *Server) handleCheckAccess(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req checkAccessRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	decision, err := s.Gate.CanAct(identity.UserID,
		access.Scope{ClassID: req.ClassID, SubjectID: req.SubjectID}, req.Capability)
	if err != nil {
		return err
	}
	return ok(c, decision)
}
