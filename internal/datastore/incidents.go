package datastore

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// CreateIncident inserts a new incident after verifying no active incident of
// the same type exists for (exam, student). Check and insert share a
// transaction with row locks so concurrent reports cannot both land.
func (ds *DataStore) CreateIncident(incident *Incident) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := ds.lockForUpdate(tx.Model(&Incident{})).
			Where("exam_id = ? AND student_id = ? AND type = ? AND is_active = ?",
				incident.ExamID, incident.StudentID, incident.Type, true).
			Count(&count).Error; err != nil {
			return dbError(err, "create_incident")
		}
		if count > 0 {
			return conflictError("an active incident of this type already exists for this student and exam",
				"exam_id", incident.ExamID,
				"student_id", incident.StudentID,
				"incident_type", string(incident.Type))
		}
		if err := tx.Create(incident).Error; err != nil {
			return dbError(err, "create_incident")
		}
		return nil
	})
	return err
}

// GetIncident loads a single incident by id.
func (ds *DataStore) GetIncident(id string) (*Incident, error) {
	var incident Incident
	if err := ds.DB.First(&incident, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("incident not found").
				Component("datastore").
				Category(errors.CategoryNotFound).
				EntityContext("incident", id).
				Build()
		}
		return nil, dbError(err, "get_incident")
	}
	return &incident, nil
}

// UpdateIncidentIf applies a mutation to an incident only when its current
// status is one of the expected states. The row is locked for the duration of
// the transaction, so the precondition cannot be invalidated between the read
// and the write. A state-category error is returned when the precondition
// fails, carrying the status actually found.
func (ds *DataStore) UpdateIncidentIf(id string, expected []IncidentStatus, apply func(*Incident) error) (*Incident, error) {
	var updated *Incident
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var incident Incident
		if err := ds.lockForUpdate(tx).
			First(&incident, "id = ?", id).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Newf("incident not found").
					Component("datastore").
					Category(errors.CategoryNotFound).
					EntityContext("incident", id).
					Build()
			}
			return dbError(err, "update_incident")
		}

		allowed := false
		for _, s := range expected {
			if incident.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Newf("incident is in state %q, operation not allowed", incident.Status).
				Component("datastore").
				Category(errors.CategoryState).
				EntityContext("incident", id).
				Context("current_status", string(incident.Status)).
				Build()
		}

		if err := apply(&incident); err != nil {
			return err
		}
		if err := tx.Save(&incident).Error; err != nil {
			return dbError(err, "update_incident")
		}
		updated = &incident
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListIncidentsByExam returns every incident for the exam, newest first.
func (ds *DataStore) ListIncidentsByExam(examID string) ([]Incident, error) {
	var incidents []Incident
	err := ds.DB.
		Where("exam_id = ?", examID).
		Order("reported_at DESC").
		Find(&incidents).Error
	if err != nil {
		return nil, dbError(err, "list_incidents_by_exam")
	}
	return incidents, nil
}

// ListActiveIncidents returns unresolved incidents for (exam, student).
func (ds *DataStore) ListActiveIncidents(examID, studentID string) ([]Incident, error) {
	var incidents []Incident
	err := ds.DB.
		Where("exam_id = ? AND student_id = ? AND is_active = ?", examID, studentID, true).
		Order("reported_at DESC").
		Find(&incidents).Error
	if err != nil {
		return nil, dbError(err, "list_active_incidents")
	}
	return incidents, nil
}
