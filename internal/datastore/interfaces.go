// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/notification"
)

// Interface abstracts the underlying database implementation and defines the
// operations the services rely on. Every status mutation with a precondition
// is expressed as a compare-and-set so racing callers get a defined conflict
// instead of silently corrupting state.
type Interface interface {
	Open() error
	Close() error
	Ping() error

	// exams and students
	GetExam(id string) (*Exam, error)
	SaveExam(exam *Exam) error
	GetStudent(id string) (*Student, error)
	SaveStudent(student *Student) error
	ListStudentsByClass(classID string) ([]Student, error)

	// answer sheets
	CreateAnswerSheet(sheet *AnswerSheet) error
	GetAnswerSheet(id string) (*AnswerSheet, error)
	GetActiveSheet(examID, studentID string) (*AnswerSheet, error)
	SaveAnswerSheet(sheet *AnswerSheet) error
	UpdateSheetStatusIf(id string, expected []SheetStatus, to SheetStatus) (bool, error)
	ListSheetsByExam(examID string) ([]AnswerSheet, error)

	// incidents
	CreateIncident(incident *Incident) error
	GetIncident(id string) (*Incident, error)
	UpdateIncidentIf(id string, expected []IncidentStatus, apply func(*Incident) error) (*Incident, error)
	ListIncidentsByExam(examID string) ([]Incident, error)
	ListActiveIncidents(examID, studentID string) ([]Incident, error)

	// access grants
	GetAccessGrant(staffID string) (*AccessGrant, error)
	SaveAccessGrant(grant *AccessGrant) error

	// durable notification records
	notification.Store
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// performAutoMigration runs gorm AutoMigrate for every entity.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Student{},
		&Exam{},
		&AnswerSheet{},
		&QuestionResult{},
		&ManualOverride{},
		&SheetFlag{},
		&Incident{},
		&AccessGrant{},
		&ClassCapability{},
		&SubjectCapability{},
		&NotificationRecord{},
	); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Context("operation", "auto_migration").
			Build()
	}

	if debug {
		getLogger().Debug("auto migration completed", "db_type", dbType, "connection", connectionInfo)
	}
	return nil
}

// Ping checks connectivity on the underlying connection pool.
func (ds *DataStore) Ping() error {
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.Ping(); err != nil {
		return dbError(err, "ping")
	}
	return nil
}

// lockForUpdate adds a row lock on dialects that support it. SQLite
// serializes writers at the transaction level and rejects FOR UPDATE syntax,
// so the clause is applied only on MySQL.
func (ds *DataStore) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if ds.DB.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// dbError wraps a gorm error with datastore context.
func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// conflictError reports a uniqueness violation.
func conflictError(message string, kv ...any) error {
	eb := errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryConflict)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			eb = eb.Context(key, kv[i+1])
		}
	}
	return eb.Build()
}

// touch stamps UpdatedAt explicitly for CAS updates made via Updates maps.
func touch() time.Time {
	return time.Now()
}
