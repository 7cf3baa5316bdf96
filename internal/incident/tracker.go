// Package incident owns the missing-paper, absence and quality incident
// records: their report, acknowledgment, resolution and escalation lifecycle,
// the red-flag visibility invariant, and the admin notification fan-out that
// accompanies each lifecycle change.
package incident

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/logging"
	"github.com/examtrack/examtrack-go/internal/notification"
)

// Tracker coordinates incident mutations. Every lifecycle move runs as a
// compare-and-set against the incident's current status, so racing staff
// actions settle to a single winner.
type Tracker struct {
	store    datastore.Interface
	notifier *notification.Service
	log      *slog.Logger
}

// NewTracker creates an incident tracker. The notifier may be nil, in which
// case lifecycle changes are recorded without fan-out.
func NewTracker(store datastore.Interface, notifier *notification.Service) *Tracker {
	logger := logging.ForService("incident")
	if logger == nil {
		logger = slog.Default().With("service", "incident")
	}
	return &Tracker{
		store:    store,
		notifier: notifier,
		log:      logger,
	}
}

// Report files a new incident for (exam, student, type). Fails with a
// not-found error when the exam or student is unknown and with a conflict
// when an active incident of the same type already exists. The linked answer
// sheet's missing/absent fields are synchronized and the reporting teacher's
// admin is notified.
func (t *Tracker) Report(examID, studentID string, incidentType datastore.IncidentType, reason string, priority datastore.IncidentPriority, reportedBy string) (*datastore.Incident, error) {
	exam, err := t.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	student, err := t.store.GetStudent(studentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.Newf("incident reason is required").
			Component("incident").
			Category(errors.CategoryValidation).
			Build()
	}
	if priority == "" {
		priority = datastore.PriorityMedium
	}

	incident := &datastore.Incident{
		ID:                     uuid.New().String(),
		ExamID:                 examID,
		StudentID:              studentID,
		Type:                   incidentType,
		Status:                 datastore.IncidentReported,
		Priority:               priority,
		Reason:                 reason,
		ReportedBy:             reportedBy,
		ReportedAt:             time.Now(),
		IsRedFlag:              true,
		RequiresAcknowledgment: true,
		IsActive:               true,
	}

	// link the active sheet if one exists
	var sheet *datastore.AnswerSheet
	if found, serr := t.store.GetActiveSheet(examID, studentID); serr == nil {
		sheet = found
		incident.SheetID = sheet.ID
	} else if !errors.IsNotFound(serr) {
		return nil, serr
	}

	// the uniqueness check runs inside CreateIncident, so it goes first: a
	// duplicate report must come back as a conflict without touching the sheet
	if err := t.store.CreateIncident(incident); err != nil {
		return nil, err
	}

	if sheet != nil && t.syncSheetFields(sheet, incidentType, reason) {
		if err := t.store.SaveAnswerSheet(sheet); err != nil {
			t.log.Error("failed to synchronize sheet fields",
				"incident_id", incident.ID, "sheet_id", sheet.ID, "error", err)
		}
	}

	t.notifyReported(incident, exam, student)

	t.log.Info("incident reported",
		"incident_id", incident.ID,
		"exam_id", examID,
		"student_id", studentID,
		"incident_type", incidentType,
		"priority", priority,
		"reported_by", reportedBy)
	return incident, nil
}

// Get loads one incident.
func (t *Tracker) Get(id string) (*datastore.Incident, error) {
	return t.store.GetIncident(id)
}

// ListByExam returns every incident for the exam, newest first.
func (t *Tracker) ListByExam(examID string) ([]datastore.Incident, error) {
	return t.store.ListIncidentsByExam(examID)
}

// Acknowledge moves a REPORTED incident to ACKNOWLEDGED, clears the red flag
// and bulk-acknowledges the incident's unread notifications.
func (t *Tracker) Acknowledge(id, acknowledgedBy, remarks string) (*datastore.Incident, error) {
	incident, err := t.store.UpdateIncidentIf(id,
		[]datastore.IncidentStatus{datastore.IncidentReported},
		func(incident *datastore.Incident) error {
			now := time.Now()
			incident.Status = datastore.IncidentAcknowledged
			incident.IsRedFlag = false
			incident.AcknowledgedBy = acknowledgedBy
			incident.AcknowledgedAt = &now
			incident.AcknowledgeRemarks = remarks
			return nil
		})
	if err != nil {
		return nil, err
	}

	if t.notifier != nil {
		if _, nerr := t.notifier.AcknowledgeByRelated(notification.RelatedIncident, id); nerr != nil {
			t.log.Error("failed to acknowledge related notifications", "incident_id", id, "error", nerr)
		}
	}

	t.log.Info("incident acknowledged", "incident_id", id, "acknowledged_by", acknowledgedBy)
	return incident, nil
}

// Resolve moves an ACKNOWLEDGED incident to RESOLVED and completes it.
// Resolution directly from REPORTED is rejected; acknowledgment comes first.
// The incident's remaining notifications are dismissed.
func (t *Tracker) Resolve(id, resolvedBy, resolutionNotes, completionNotes string) (*datastore.Incident, error) {
	incident, err := t.store.UpdateIncidentIf(id,
		[]datastore.IncidentStatus{datastore.IncidentAcknowledged},
		func(incident *datastore.Incident) error {
			now := time.Now()
			incident.Status = datastore.IncidentResolved
			incident.IsRedFlag = false
			incident.IsCompleted = true
			incident.IsActive = false
			incident.ResolvedBy = resolvedBy
			incident.ResolvedAt = &now
			incident.ResolutionNotes = resolutionNotes
			incident.CompletionNotes = completionNotes
			return nil
		})
	if err != nil {
		if errors.IsCategory(err, errors.CategoryState) {
			return nil, errors.Newf("incident must be acknowledged before resolution").
				Component("incident").
				Category(errors.CategoryState).
				EntityContext("incident", id).
				Build()
		}
		return nil, err
	}

	if t.notifier != nil {
		if _, nerr := t.notifier.DismissByRelated(notification.RelatedIncident, id); nerr != nil {
			t.log.Error("failed to dismiss related notifications", "incident_id", id, "error", nerr)
		}
	}

	t.log.Info("incident resolved", "incident_id", id, "resolved_by", resolvedBy)
	return incident, nil
}

// Escalate marks an unresolved incident ESCALATED toward a named target. The
// red flag stays raised until someone acknowledges.
func (t *Tracker) Escalate(id, escalateTo, reason string) (*datastore.Incident, error) {
	if strings.TrimSpace(escalateTo) == "" {
		return nil, errors.Newf("escalation target is required").
			Component("incident").
			Category(errors.CategoryValidation).
			Build()
	}

	incident, err := t.store.UpdateIncidentIf(id,
		[]datastore.IncidentStatus{
			datastore.IncidentPending,
			datastore.IncidentReported,
			datastore.IncidentAcknowledged,
			datastore.IncidentEscalated,
		},
		func(incident *datastore.Incident) error {
			now := time.Now()
			incident.Status = datastore.IncidentEscalated
			incident.IsRedFlag = true
			incident.EscalatedTo = escalateTo
			incident.EscalatedAt = &now
			incident.EscalationReason = reason
			return nil
		})
	if err != nil {
		if errors.IsCategory(err, errors.CategoryState) {
			return nil, errors.Newf("resolved incidents cannot be escalated").
				Component("incident").
				Category(errors.CategoryState).
				EntityContext("incident", id).
				Build()
		}
		return nil, err
	}

	if t.notifier != nil {
		notif := notification.NewNotification(
			notification.TypeIncident,
			notification.PriorityUrgent,
			"Incident escalated",
			fmt.Sprintf("Incident %s escalated: %s", incident.Type, reason)).
			WithComponent("incident").
			WithRelated(notification.RelatedIncident, incident.ID).
			WithMetadata(notification.MetadataKeyIncidentType, string(incident.Type))
		if nerr := t.notifier.NotifyAdmin(escalateTo, notif); nerr != nil {
			t.log.Error("failed to notify escalation target", "incident_id", id, "error", nerr)
		} else {
			t.recordNotificationID(incident, notif.ID)
		}
	}

	t.log.Info("incident escalated", "incident_id", id, "escalated_to", escalateTo)
	return incident, nil
}

// StudentCompletion is one row of the per-exam completion read model.
type StudentCompletion struct {
	StudentID      string                   `json:"studentId"`
	StudentName    string                   `json:"studentName"`
	RollNumber     string                   `json:"rollNumber"`
	HasSheet       bool                     `json:"hasSheet"`
	SheetStatus    datastore.SheetStatus    `json:"sheetStatus,omitempty"`
	HasIncident    bool                     `json:"hasIncident"`
	IncidentStatus datastore.IncidentStatus `json:"incidentStatus,omitempty"`
	IsRedFlag      bool                     `json:"isRedFlag"`
}

// CompletionStatus is the aggregated per-exam view of sheet and incident
// progress. IsComplete holds when every incident for the exam is resolved.
type CompletionStatus struct {
	ExamID     string              `json:"examId"`
	IsComplete bool                `json:"isComplete"`
	Students   []StudentCompletion `json:"students"`
}

// CompletionStatusForExam derives, per student in the exam's class, sheet and
// incident progress, plus an exam-level completeness verdict. Pure read-model
// aggregation over stored state.
func (t *Tracker) CompletionStatusForExam(examID string) (*CompletionStatus, error) {
	exam, err := t.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	students, err := t.store.ListStudentsByClass(exam.ClassID)
	if err != nil {
		return nil, err
	}
	sheets, err := t.store.ListSheetsByExam(examID)
	if err != nil {
		return nil, err
	}
	incidents, err := t.store.ListIncidentsByExam(examID)
	if err != nil {
		return nil, err
	}

	sheetByStudent := make(map[string]*datastore.AnswerSheet, len(sheets))
	for i := range sheets {
		if sheets[i].IsActive {
			sheetByStudent[sheets[i].StudentID] = &sheets[i]
		}
	}
	// newest incident per student wins the display slot
	incidentByStudent := make(map[string]*datastore.Incident, len(incidents))
	for i := range incidents {
		if _, seen := incidentByStudent[incidents[i].StudentID]; !seen {
			incidentByStudent[incidents[i].StudentID] = &incidents[i]
		}
	}

	status := &CompletionStatus{
		ExamID:     examID,
		IsComplete: true,
		Students:   make([]StudentCompletion, 0, len(students)),
	}
	for i := range incidents {
		if incidents[i].Status != datastore.IncidentResolved {
			status.IsComplete = false
			break
		}
	}

	for _, student := range students {
		row := StudentCompletion{
			StudentID:   student.ID,
			StudentName: student.Name,
			RollNumber:  student.RollNumber,
		}
		if sheet, ok := sheetByStudent[student.ID]; ok {
			row.HasSheet = true
			row.SheetStatus = sheet.Status
		}
		if incident, ok := incidentByStudent[student.ID]; ok {
			row.HasIncident = true
			row.IncidentStatus = incident.Status
			row.IsRedFlag = incident.IsRedFlag
		}
		status.Students = append(status.Students, row)
	}
	return status, nil
}

// notifyReported fans the report out to the reporting teacher and their
// admin, then links the created notification records to the incident.
func (t *Tracker) notifyReported(incident *datastore.Incident, exam *datastore.Exam, student *datastore.Student) {
	if t.notifier == nil {
		return
	}

	notif := notification.NewNotification(
		notification.TypeIncident,
		priorityFor(incident.Priority),
		fmt.Sprintf("Incident: %s", incident.Type),
		fmt.Sprintf("%s reported for %s (roll %s) in %s: %s",
			incident.Type, student.Name, student.RollNumber, exam.Name, incident.Reason)).
		WithComponent("incident").
		WithRelated(notification.RelatedIncident, incident.ID).
		WithMetadata(notification.MetadataKeyIncidentType, string(incident.Type))

	created, err := t.notifier.NotifyTeacherAndAdmin(incident.ReportedBy, notif)
	if err != nil {
		t.log.Error("failed to notify incident report",
			"incident_id", incident.ID,
			"error", err)
	}
	if len(created) > 0 {
		t.recordNotificationID(incident, created...)
	}
}

// recordNotificationID appends notification ids to the incident and persists
// the link. Link failures are logged, not surfaced; the records themselves
// already exist.
func (t *Tracker) recordNotificationID(incident *datastore.Incident, ids ...string) {
	incident.NotificationIDs = append(incident.NotificationIDs, ids...)
	if _, err := t.store.UpdateIncidentIf(incident.ID,
		[]datastore.IncidentStatus{incident.Status},
		func(stored *datastore.Incident) error {
			stored.NotificationIDs = incident.NotificationIDs
			return nil
		}); err != nil {
		t.log.Error("failed to link notifications to incident", "incident_id", incident.ID, "error", err)
	}
}

// syncSheetFields mirrors the incident type onto the linked sheet. Reports
// true when the sheet changed.
func (t *Tracker) syncSheetFields(sheet *datastore.AnswerSheet, incidentType datastore.IncidentType, reason string) bool {
	switch incidentType {
	case datastore.IncidentAbsent:
		if sheet.IsAbsent {
			return false
		}
		sheet.IsAbsent = true
		sheet.AbsentReason = reason
		return true
	case datastore.IncidentMissingSheet:
		if sheet.IsMissing {
			return false
		}
		sheet.IsMissing = true
		sheet.MissingReason = reason
		return true
	default:
		return false
	}
}

func priorityFor(priority datastore.IncidentPriority) notification.Priority {
	switch priority {
	case datastore.PriorityUrgent:
		return notification.PriorityUrgent
	case datastore.PriorityHigh:
		return notification.PriorityHigh
	case datastore.PriorityLow:
		return notification.PriorityLow
	default:
		return notification.PriorityMedium
	}
}
