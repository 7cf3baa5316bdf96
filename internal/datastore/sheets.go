package datastore

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// CreateAnswerSheet inserts a new sheet after verifying no active sheet exists
// for the same (exam, student). The check and insert run in one transaction
// with the existing rows locked, so two racing uploads cannot both succeed.
func (ds *DataStore) CreateAnswerSheet(sheet *AnswerSheet) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := ds.lockForUpdate(tx.Model(&AnswerSheet{})).
			Where("exam_id = ? AND student_id = ? AND is_active = ?", sheet.ExamID, sheet.StudentID, true).
			Count(&count).Error; err != nil {
			return dbError(err, "create_answer_sheet")
		}
		if count > 0 {
			return conflictError("an active answer sheet already exists for this student and exam",
				"exam_id", sheet.ExamID,
				"student_id", sheet.StudentID)
		}
		if err := tx.Create(sheet).Error; err != nil {
			return dbError(err, "create_answer_sheet")
		}
		return nil
	})
	return err
}

// GetAnswerSheet loads a sheet with its question results, overrides and flags.
func (ds *DataStore) GetAnswerSheet(id string) (*AnswerSheet, error) {
	var sheet AnswerSheet
	err := ds.DB.
		Preload("QuestionResults").
		Preload("Overrides").
		Preload("Flags", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&sheet, "id = ?", id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("answer sheet not found").
				Component("datastore").
				Category(errors.CategoryNotFound).
				EntityContext("answer_sheet", id).
				Build()
		}
		return nil, dbError(err, "get_answer_sheet")
	}
	return &sheet, nil
}

// GetActiveSheet returns the single active sheet for (exam, student), or a
// not-found error when none exists.
func (ds *DataStore) GetActiveSheet(examID, studentID string) (*AnswerSheet, error) {
	var sheet AnswerSheet
	err := ds.DB.
		Preload("QuestionResults").
		Preload("Overrides").
		Preload("Flags", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("exam_id = ? AND student_id = ? AND is_active = ?", examID, studentID, true).
		First(&sheet).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no active answer sheet for student in exam").
				Component("datastore").
				Category(errors.CategoryNotFound).
				Context("exam_id", examID).
				Context("student_id", studentID).
				Build()
		}
		return nil, dbError(err, "get_active_sheet")
	}
	return &sheet, nil
}

// SaveAnswerSheet persists the sheet and all its child rows.
func (ds *DataStore) SaveAnswerSheet(sheet *AnswerSheet) error {
	if err := ds.DB.Session(&gorm.Session{FullSaveAssociations: true}).Save(sheet).Error; err != nil {
		return dbError(err, "save_answer_sheet")
	}
	return nil
}

// UpdateSheetStatusIf transitions the sheet's status only if the current value
// is one of the expected states. It reports whether the transition happened;
// false with a nil error means another writer got there first or the sheet is
// in a different state.
func (ds *DataStore) UpdateSheetStatusIf(id string, expected []SheetStatus, to SheetStatus) (bool, error) {
	res := ds.DB.Model(&AnswerSheet{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(map[string]any{"status": to, "updated_at": touch()})
	if res.Error != nil {
		return false, dbError(res.Error, "update_sheet_status")
	}
	return res.RowsAffected > 0, nil
}

// ListSheetsByExam returns every sheet for the exam, flags included, ordered
// by creation time.
func (ds *DataStore) ListSheetsByExam(examID string) ([]AnswerSheet, error) {
	var sheets []AnswerSheet
	err := ds.DB.
		Preload("Flags", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("exam_id = ?", examID).
		Order("created_at ASC").
		Find(&sheets).Error
	if err != nil {
		return nil, dbError(err, "list_sheets_by_exam")
	}
	return sheets, nil
}
