package api

import (
	"github.com/labstack/echo/v4"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/sheet"
)

func (s *Server) initSheetRoutes() {
	g := s.Group.Group("/sheets")
	g.POST("", s.handleUploadSheet)
	g.GET("/:id", s.handleGetSheet)
	g.POST("/:id/correction", s.handleIngestCorrection)
	g.POST("/:id/override", s.handleManualOverride)
	g.POST("/:id/missing", s.handleMarkMissing)
	g.POST("/:id/complete", s.handleCompleteSheet)

	s.Group.GET("/exams/:examId/sheets", s.handleListSheetsByExam)
	s.Group.POST("/exams/:examId/students/:studentId/absent", s.handleMarkAbsent)
}

type uploadSheetRequest struct {
	ExamID    string `json:"examId" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
	ClassID   string `json:"classId" validate:"required"`
	FileRef   string `json:"fileRef" validate:"required"`
}

func (s *Server) handleUploadSheet(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req uploadSheetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.requireCapability(identity.UserID, access.Scope{ClassID: req.ClassID}, access.CapUpload); err != nil {
		return err
	}

	result, err := s.Ledger.RecordUpload(req.ExamID, req.StudentID, req.FileRef, identity.UserID)
	if err != nil {
		return err
	}
	return created(c, result)
}

func (s *Server) handleGetSheet(c echo.Context) error {
	result, err := s.Ledger.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, result)
}

func (s *Server) handleListSheetsByExam(c echo.Context) error {
	sheets, err := s.Ledger.ListByExam(c.Param("examId"))
	if err != nil {
		return err
	}
	return okPaged(c, sheets, &Pagination{Limit: len(sheets), Count: len(sheets)})
}

func (s *Server) handleIngestCorrection(c echo.Context) error {
	var req sheet.CorrectionResult
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := s.Ledger.IngestCorrectionResult(c.Param("id"), &req)
	if err != nil {
		return err
	}
	return ok(c, result)
}

type manualOverrideRequest struct {
	QuestionID      string  `json:"questionId" validate:"required"`
	CorrectedAnswer string  `json:"correctedAnswer"`
	CorrectedMarks  float64 `json:"correctedMarks" validate:"gte=0"`
	Reason          string  `json:"reason" validate:"required,min=10"`
	ClassID         string  `json:"classId" validate:"required"`
}

func (s *Server) handleManualOverride(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req manualOverrideRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.requireCapability(identity.UserID, access.Scope{ClassID: req.ClassID}, access.CapOverrideAI); err != nil {
		return err
	}

	result, err := s.Ledger.ApplyManualOverride(c.Param("id"),
		req.QuestionID, req.CorrectedAnswer, req.CorrectedMarks, identity.UserID, req.Reason)
	if err != nil {
		return err
	}
	return ok(c, result)
}

type markMissingRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ClassID string `json:"classId" validate:"required"`
}

func (s *Server) handleMarkMissing(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req markMissingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.requireCapability(identity.UserID, access.Scope{ClassID: req.ClassID}, access.CapMarkMissing); err != nil {
		return err
	}

	result, err := s.Ledger.MarkMissing(c.Param("id"), req.Reason, identity.UserID)
	if err != nil {
		return err
	}
	return ok(c, result)
}

type markAbsentRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ClassID string `json:"classId" validate:"required"`
}

func (s *Server) handleMarkAbsent(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	var req markAbsentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.requireCapability(identity.UserID, access.Scope{ClassID: req.ClassID}, access.CapMarkAbsent); err != nil {
		return err
	}

	result, err := s.Ledger.MarkAbsent(c.Param("examId"), c.Param("studentId"), req.Reason, identity.UserID)
	if err != nil {
		return err
	}
	if result == nil {
		// absence without an uploaded sheet still files the incident
		return ok(c, map[string]any{"sheet": nil})
	}
	return ok(c, result)
}

func (s *Server) handleCompleteSheet(c echo.Context) error {
	identity, err := s.identity(c)
	if err != nil {
		return err
	}

	result, err := s.Ledger.Complete(c.Param("id"), identity.UserID)
	if err != nil {
		return err
	}
	return ok(c, result)
}
