package datastore

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// GetExam loads an exam by id.
func (ds *DataStore) GetExam(id string) (*Exam, error) {
	var exam Exam
	if err := ds.DB.First(&exam, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("exam not found").
				Component("datastore").
				Category(errors.CategoryNotFound).
				EntityContext("exam", id).
				Build()
		}
		return nil, dbError(err, "get_exam")
	}
	return &exam, nil
}

// SaveExam upserts an exam.
func (ds *DataStore) SaveExam(exam *Exam) error {
	if err := ds.DB.Save(exam).Error; err != nil {
		return dbError(err, "save_exam")
	}
	return nil
}

// GetStudent loads a student by id.
func (ds *DataStore) GetStudent(id string) (*Student, error) {
	var student Student
	if err := ds.DB.First(&student, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("student not found").
				Component("datastore").
				Category(errors.CategoryNotFound).
				EntityContext("student", id).
				Build()
		}
		return nil, dbError(err, "get_student")
	}
	return &student, nil
}

// SaveStudent upserts a student.
func (ds *DataStore) SaveStudent(student *Student) error {
	if err := ds.DB.Save(student).Error; err != nil {
		return dbError(err, "save_student")
	}
	return nil
}

// ListStudentsByClass returns a class roster ordered by roll number.
func (ds *DataStore) ListStudentsByClass(classID string) ([]Student, error) {
	var students []Student
	err := ds.DB.
		Where("class_id = ?", classID).
		Order("roll_number ASC").
		Find(&students).Error
	if err != nil {
		return nil, dbError(err, "list_students_by_class")
	}
	return students, nil
}

// GetAccessGrant loads the active grant for a staff member with its class and
// subject capabilities.
func (ds *DataStore) GetAccessGrant(staffID string) (*AccessGrant, error) {
	var grant AccessGrant
	err := ds.DB.
		Preload("Classes").
		Preload("Subjects").
		Where("staff_id = ? AND is_active = ?", staffID, true).
		First(&grant).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no access grant for staff member").
				Component("datastore").
				Category(errors.CategoryNotFound).
				EntityContext("staff", staffID).
				Build()
		}
		return nil, dbError(err, "get_access_grant")
	}
	return &grant, nil
}

// SaveAccessGrant upserts a grant with its capability rows.
func (ds *DataStore) SaveAccessGrant(grant *AccessGrant) error {
	if err := ds.DB.Session(&gorm.Session{FullSaveAssociations: true}).Save(grant).Error; err != nil {
		return dbError(err, "save_access_grant")
	}
	return nil
}
