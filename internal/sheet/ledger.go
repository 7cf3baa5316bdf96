package sheet

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/logging"
)

const minOverrideReasonLength = 10

// IncidentReporter is the slice of the incident tracker the ledger needs when
// a terminal missing/absent transition requires an incident on record.
type IncidentReporter interface {
	Report(examID, studentID string, incidentType datastore.IncidentType, reason string, priority datastore.IncidentPriority, reportedBy string) (*datastore.Incident, error)
}

// Ledger coordinates answer-sheet mutations against the datastore. All status
// moves go through compare-and-set updates so racing staff actions resolve to
// a defined winner and a defined error for the loser.
type Ledger struct {
	store     datastore.Interface
	incidents IncidentReporter
	settings  *conf.Settings
	log       *slog.Logger
}

// NewLedger creates a sheet ledger. The incident reporter may be nil, in
// which case missing/absent transitions skip incident creation.
func NewLedger(store datastore.Interface, incidents IncidentReporter, settings *conf.Settings) *Ledger {
	logger := logging.ForService("sheet")
	if logger == nil {
		logger = slog.Default().With("service", "sheet")
	}
	return &Ledger{
		store:     store,
		incidents: incidents,
		settings:  settings,
		log:       logger,
	}
}

// SetIncidentReporter wires the incident tracker after construction. The
// ledger and tracker reference each other, so one side is attached late.
func (l *Ledger) SetIncidentReporter(incidents IncidentReporter) {
	l.incidents = incidents
}

// RecordUpload creates a new sheet in UPLOADED for (exam, student). Fails
// with a conflict when an active sheet already exists for the pair.
func (l *Ledger) RecordUpload(examID, studentID, fileRef, uploadedBy string) (*datastore.AnswerSheet, error) {
	exam, err := l.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.GetStudent(studentID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileRef) == "" {
		return nil, errors.Newf("fileRef is required").
			Component("sheet").
			Category(errors.CategoryValidation).
			Build()
	}

	sheet := &datastore.AnswerSheet{
		ID:        uuid.New().String(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    datastore.SheetUploaded,
		FileRef:   fileRef,
		MaxMarks:  exam.MaxMarks,
		IsActive:  true,
	}
	if err := l.store.CreateAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.log.Info("answer sheet uploaded",
		"sheet_id", sheet.ID,
		"exam_id", examID,
		"student_id", studentID,
		"uploaded_by", uploadedBy)
	return sheet, nil
}

// Get loads a sheet with its results, overrides and flags.
func (l *Ledger) Get(sheetID string) (*datastore.AnswerSheet, error) {
	return l.store.GetAnswerSheet(sheetID)
}

// ListByExam returns every sheet for the exam.
func (l *Ledger) ListByExam(examID string) ([]datastore.AnswerSheet, error) {
	return l.store.ListSheetsByExam(examID)
}

// IngestCorrectionResult stores an automated correction result, moves the
// sheet to AI_CORRECTED, and appends any automatically detected flags.
func (l *Ledger) IngestCorrectionResult(sheetID string, result *CorrectionResult) (*datastore.AnswerSheet, error) {
	if result == nil {
		return nil, errors.Newf("correction result is required").
			Component("sheet").
			Category(errors.CategoryValidation).
			Build()
	}

	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	ok, err := l.store.UpdateSheetStatusIf(sheetID,
		[]datastore.SheetStatus{datastore.SheetUploaded, datastore.SheetProcessing},
		datastore.SheetAICorrected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transitionError(sheet, datastore.SheetAICorrected)
	}

	sheet.Status = datastore.SheetAICorrected
	sheet.AIConfidence = result.Confidence
	sheet.TotalMarks = result.TotalMarks
	if result.MaxMarks > 0 {
		sheet.MaxMarks = result.MaxMarks
	}
	sheet.ScanQuality = result.ScanQuality
	sheet.AlignmentOK = result.AlignmentOK
	sheet.DetectedRollNumber = result.DetectedRollNumber
	sheet.RollNumberConfidence = result.RollNumberConfidence

	sheet.QuestionResults = sheet.QuestionResults[:0]
	for _, q := range result.Questions {
		sheet.QuestionResults = append(sheet.QuestionResults, datastore.QuestionResult{
			SheetID:    sheet.ID,
			QuestionID: q.QuestionID,
			Answer:     q.Answer,
			Marks:      q.Marks,
			MaxMarks:   q.MaxMarks,
			Confidence: q.Confidence,
		})
	}

	expectedRoll := ""
	if student, serr := l.store.GetStudent(sheet.StudentID); serr == nil {
		expectedRoll = student.RollNumber
	}
	detected := AutoDetectFlags(result, expectedRoll, &l.settings.Correction)
	appendFlags(sheet, detected)

	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.log.Info("correction result ingested",
		"sheet_id", sheet.ID,
		"confidence", result.Confidence,
		"flags_detected", len(detected))
	return sheet, nil
}

// ApplyManualOverride appends a staff correction for one question, recomputes
// the aggregate marks and moves the sheet to MANUALLY_REVIEWED.
func (l *Ledger) ApplyManualOverride(sheetID, questionID, correctedAnswer string, correctedMarks float64, author, reason string) (*datastore.AnswerSheet, error) {
	if len(strings.TrimSpace(reason)) < minOverrideReasonLength {
		return nil, errors.Newf("override reason must be at least %d characters", minOverrideReasonLength).
			Component("sheet").
			Category(errors.CategoryValidation).
			Build()
	}
	if correctedMarks < 0 {
		return nil, errors.Newf("corrected marks must not be negative").
			Component("sheet").
			Category(errors.CategoryValidation).
			Build()
	}

	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	ok, err := l.store.UpdateSheetStatusIf(sheetID,
		[]datastore.SheetStatus{datastore.SheetAICorrected, datastore.SheetManuallyReviewed},
		datastore.SheetManuallyReviewed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transitionError(sheet, datastore.SheetManuallyReviewed)
	}

	sheet.Status = datastore.SheetManuallyReviewed
	sheet.Overrides = append(sheet.Overrides, datastore.ManualOverride{
		SheetID:         sheet.ID,
		QuestionID:      questionID,
		CorrectedAnswer: correctedAnswer,
		CorrectedMarks:  correctedMarks,
		Author:          author,
		Reason:          reason,
		CreatedAt:       time.Now(),
	})
	sheet.TotalMarks = recomputeTotal(sheet)

	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.log.Info("manual override applied",
		"sheet_id", sheet.ID,
		"question_id", questionID,
		"author", author)
	return sheet, nil
}

// MarkMissing moves a sheet into the terminal MISSING state and files a
// missing-sheet incident when none is active yet.
func (l *Ledger) MarkMissing(sheetID, reason, reportedBy string) (*datastore.AnswerSheet, error) {
	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	ok, err := l.store.UpdateSheetStatusIf(sheetID, preCompletionStatuses(), datastore.SheetMissing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transitionError(sheet, datastore.SheetMissing)
	}

	sheet.Status = datastore.SheetMissing
	sheet.IsMissing = true
	sheet.MissingReason = reason
	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.reportIncident(sheet.ExamID, sheet.StudentID, datastore.IncidentMissingSheet, reason, reportedBy)
	return sheet, nil
}

// MarkAbsent records a student absence for the exam. When an active sheet
// exists it is moved to the terminal ABSENT state; either way an absence
// incident is filed when none is active yet.
func (l *Ledger) MarkAbsent(examID, studentID, reason, reportedBy string) (*datastore.AnswerSheet, error) {
	if _, err := l.store.GetExam(examID); err != nil {
		return nil, err
	}
	if _, err := l.store.GetStudent(studentID); err != nil {
		return nil, err
	}

	sheet, err := l.store.GetActiveSheet(examID, studentID)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		sheet = nil
	}

	if sheet != nil {
		ok, uerr := l.store.UpdateSheetStatusIf(sheet.ID, preCompletionStatuses(), datastore.SheetAbsent)
		if uerr != nil {
			return nil, uerr
		}
		if !ok {
			return nil, transitionError(sheet, datastore.SheetAbsent)
		}
		sheet.Status = datastore.SheetAbsent
		sheet.IsAbsent = true
		sheet.AbsentReason = reason
		if err := l.store.SaveAnswerSheet(sheet); err != nil {
			return nil, err
		}
	}

	l.reportIncident(examID, studentID, datastore.IncidentAbsent, reason, reportedBy)
	return sheet, nil
}

// Complete moves the sheet to COMPLETED. Idempotent: completing an already
// completed sheet succeeds without effect. All flags must be resolved first.
func (l *Ledger) Complete(sheetID, completedBy string) (*datastore.AnswerSheet, error) {
	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	if sheet.Status == datastore.SheetCompleted {
		return sheet, nil
	}

	if unresolved := countUnresolvedFlags(sheet); unresolved > 0 {
		return nil, errors.Newf("sheet has %d unresolved flags", unresolved).
			Component("sheet").
			Category(errors.CategoryState).
			EntityContext("answer_sheet", sheetID).
			Build()
	}

	ok, err := l.store.UpdateSheetStatusIf(sheetID,
		[]datastore.SheetStatus{datastore.SheetAICorrected, datastore.SheetManuallyReviewed},
		datastore.SheetCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		// another writer may have completed it between the read and the CAS
		sheet, err = l.store.GetAnswerSheet(sheetID)
		if err != nil {
			return nil, err
		}
		if sheet.Status == datastore.SheetCompleted {
			return sheet, nil
		}
		return nil, transitionError(sheet, datastore.SheetCompleted)
	}

	sheet.Status = datastore.SheetCompleted
	l.log.Info("answer sheet completed", "sheet_id", sheetID, "completed_by", completedBy)
	return sheet, nil
}

// reportIncident files an incident, tolerating a duplicate already on record.
func (l *Ledger) reportIncident(examID, studentID string, incidentType datastore.IncidentType, reason, reportedBy string) {
	if l.incidents == nil {
		return
	}
	_, err := l.incidents.Report(examID, studentID, incidentType, reason, datastore.PriorityHigh, reportedBy)
	if err != nil {
		if errors.IsConflict(err) {
			return
		}
		l.log.Error("failed to file incident",
			"exam_id", examID,
			"student_id", studentID,
			"incident_type", incidentType,
			"error", err)
	}
}

// recomputeTotal sums per-question marks, taking the latest override for each
// question over the AI result.
func recomputeTotal(sheet *datastore.AnswerSheet) float64 {
	overridden := make(map[string]float64, len(sheet.Overrides))
	for _, o := range sheet.Overrides {
		overridden[o.QuestionID] = o.CorrectedMarks
	}

	total := 0.0
	counted := make(map[string]bool, len(sheet.QuestionResults))
	for _, q := range sheet.QuestionResults {
		counted[q.QuestionID] = true
		if marks, ok := overridden[q.QuestionID]; ok {
			total += marks
		} else {
			total += q.Marks
		}
	}
	// overrides for questions the AI produced no result for still count
	for questionID, marks := range overridden {
		if !counted[questionID] {
			total += marks
		}
	}
	return total
}

func transitionError(sheet *datastore.AnswerSheet, to datastore.SheetStatus) error {
	return errors.Newf("sheet cannot move from %q to %q", sheet.Status, to).
		Component("sheet").
		Category(errors.CategoryState).
		EntityContext("answer_sheet", sheet.ID).
		Context("current_status", string(sheet.Status)).
		Context("target_status", string(to)).
		Build()
}
