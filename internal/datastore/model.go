// model.go this code defines the data model for the application
package datastore

import "time"

// SheetStatus is the canonical state of an answer sheet's grading lifecycle.
type SheetStatus string

const (
	SheetUploaded         SheetStatus = "uploaded"
	SheetProcessing       SheetStatus = "processing"
	SheetAICorrected      SheetStatus = "ai_corrected"
	SheetManuallyReviewed SheetStatus = "manually_reviewed"
	SheetCompleted        SheetStatus = "completed"
	SheetMissing          SheetStatus = "missing"
	SheetAbsent           SheetStatus = "absent"
)

// ScanQuality grades the legibility of a scanned sheet.
type ScanQuality string

const (
	QualityGood       ScanQuality = "good"
	QualityFair       ScanQuality = "fair"
	QualityPoor       ScanQuality = "poor"
	QualityUnreadable ScanQuality = "unreadable"
)

// FlagType categorizes quality/integrity flags attached to a sheet.
type FlagType string

const (
	FlagLowConfidence      FlagType = "low_confidence"
	FlagRollNumberMismatch FlagType = "roll_number_mismatch"
	FlagBlankAnswers       FlagType = "blank_answers"
	FlagPoorScanQuality    FlagType = "poor_scan_quality"
	FlagAlignment          FlagType = "alignment"
	FlagManual             FlagType = "manual"
)

// FlagSeverity indicates how urgently a flag needs review.
type FlagSeverity string

const (
	SeverityLow      FlagSeverity = "low"
	SeverityMedium   FlagSeverity = "medium"
	SeverityHigh     FlagSeverity = "high"
	SeverityCritical FlagSeverity = "critical"
)

// IncidentType categorizes a reported exam incident.
type IncidentType string

const (
	IncidentAbsent          IncidentType = "absent"
	IncidentMissingSheet    IncidentType = "missing_sheet"
	IncidentLateSubmission  IncidentType = "late_submission"
	IncidentQualityIssue    IncidentType = "quality_issue"
	IncidentRollNumberIssue IncidentType = "roll_number_issue"
)

// IncidentStatus is the acknowledgment/resolution state of an incident.
type IncidentStatus string

const (
	IncidentPending      IncidentStatus = "pending"
	IncidentReported     IncidentStatus = "reported"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
	IncidentEscalated    IncidentStatus = "escalated"
)

// IncidentPriority ranks incidents for admin attention.
type IncidentPriority string

const (
	PriorityLow    IncidentPriority = "low"
	PriorityMedium IncidentPriority = "medium"
	PriorityHigh   IncidentPriority = "high"
	PriorityUrgent IncidentPriority = "urgent"
)

// Student represents one enrolled student.
type Student struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Name       string
	RollNumber string `gorm:"index:idx_students_roll"`
	ClassID    string `gorm:"index:idx_students_class"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Exam represents one scheduled exam for a class and subject.
type Exam struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string
	SubjectID string `gorm:"index:idx_exams_subject"`
	ClassID   string `gorm:"index:idx_exams_class"`
	MaxMarks  float64
	ExamDate  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnswerSheet is the per-student, per-exam sheet record. At most one active
// record may exist per (exam, student); enforcement happens in the store via
// a locked conditional create, never by blind insert.
type AnswerSheet struct {
	ID                   string      `gorm:"primaryKey;type:varchar(36)"`
	ExamID               string      `gorm:"index:idx_sheets_exam_student"`
	StudentID            string      `gorm:"index:idx_sheets_exam_student"`
	Status               SheetStatus `gorm:"type:varchar(32);index:idx_sheets_status"`
	FileRef              string
	ScanQuality          ScanQuality `gorm:"type:varchar(16)"`
	AlignmentOK          bool
	DetectedRollNumber   string
	RollNumberConfidence float64
	AIConfidence         float64
	TotalMarks           float64
	MaxMarks             float64

	QuestionResults []QuestionResult `gorm:"foreignKey:SheetID;constraint:OnDelete:CASCADE"`
	Overrides       []ManualOverride `gorm:"foreignKey:SheetID;constraint:OnDelete:CASCADE"`
	Flags           []SheetFlag      `gorm:"foreignKey:SheetID;constraint:OnDelete:CASCADE"`

	IsMissing     bool
	MissingReason string
	IsAbsent      bool
	AbsentReason  string

	AcknowledgedBy string
	AcknowledgedAt *time.Time

	// Soft lifecycle fields. Archived marks retention processing and is
	// deliberately separate from Status.
	IsActive bool `gorm:"index:idx_sheets_active"`
	Archived bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuestionResult is one per-question entry of an AI correction result.
type QuestionResult struct {
	ID         uint   `gorm:"primaryKey"`
	SheetID    string `gorm:"index;not null;type:varchar(36)"`
	QuestionID string
	Answer     string `gorm:"type:text"`
	Marks      float64
	MaxMarks   float64
	Confidence float64
}

// ManualOverride records a staff correction of a single question.
type ManualOverride struct {
	ID              uint   `gorm:"primaryKey"`
	SheetID         string `gorm:"index;not null;type:varchar(36)"`
	QuestionID      string
	CorrectedAnswer string `gorm:"type:text"`
	CorrectedMarks  float64
	Author          string
	Reason          string `gorm:"type:text"`
	CreatedAt       time.Time
}

// SheetFlag is a quality/integrity annotation on a sheet, resolvable
// independently of the sheet's grading status. Position is the stable
// creation-order index used by the flag resolution API.
type SheetFlag struct {
	ID              uint   `gorm:"primaryKey"`
	SheetID         string `gorm:"index;not null;type:varchar(36)"`
	Position        int
	Type            FlagType     `gorm:"type:varchar(32)"`
	Severity        FlagSeverity `gorm:"type:varchar(16)"`
	Description     string       `gorm:"type:text"`
	DetectedBy      string
	Resolved        bool
	ResolvedBy      string
	ResolvedAt      *time.Time
	ResolutionNotes string `gorm:"type:text"`
	CreatedAt       time.Time
}

// Incident tracks a reported problem for (exam, student, type). At most one
// active record may exist per triple while unresolved.
type Incident struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	ExamID    string `gorm:"index:idx_incidents_exam_student"`
	StudentID string `gorm:"index:idx_incidents_exam_student"`
	SheetID   string `gorm:"type:varchar(36)"` // linked answer sheet, empty if none

	Type     IncidentType     `gorm:"type:varchar(32);index:idx_incidents_type"`
	Status   IncidentStatus   `gorm:"type:varchar(16);index:idx_incidents_status"`
	Priority IncidentPriority `gorm:"type:varchar(16)"`

	Reason     string `gorm:"type:text"`
	ReportedBy string
	ReportedAt time.Time

	AcknowledgedBy     string
	AcknowledgedAt     *time.Time
	AcknowledgeRemarks string `gorm:"type:text"`

	ResolvedBy      string
	ResolvedAt      *time.Time
	ResolutionNotes string `gorm:"type:text"`
	CompletionNotes string `gorm:"type:text"`

	EscalatedTo      string
	EscalatedAt      *time.Time
	EscalationReason string `gorm:"type:text"`

	IsRedFlag              bool `gorm:"index:idx_incidents_redflag"`
	RequiresAcknowledgment bool
	IsCompleted            bool

	NotificationIDs []string `gorm:"serializer:json"`

	IsActive  bool `gorm:"index:idx_incidents_active"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessGrant holds a staff member's capabilities. Read by the access gate on
// every staff-originated mutation.
type AccessGrant struct {
	ID      string `gorm:"primaryKey;type:varchar(36)"`
	StaffID string `gorm:"uniqueIndex:idx_grants_staff"`

	// GrantedBy is the admin who issued the grant; for teachers this doubles
	// as their administering admin for notification routing.
	GrantedBy string

	// Global capability flags that apply across all classes and subjects.
	AllClasses  bool
	AllSubjects bool

	ExpiresAt *time.Time

	Classes  []ClassCapability   `gorm:"foreignKey:GrantID;constraint:OnDelete:CASCADE"`
	Subjects []SubjectCapability `gorm:"foreignKey:GrantID;constraint:OnDelete:CASCADE"`

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClassCapability lists what a staff member may do within one class.
type ClassCapability struct {
	ID             uint   `gorm:"primaryKey"`
	GrantID        string `gorm:"index;not null;type:varchar(36)"`
	ClassID        string `gorm:"index"`
	CanUpload      bool
	CanMarkAbsent  bool
	CanMarkMissing bool
	CanOverrideAI  bool
}

// SubjectCapability lists what a staff member may do within one subject.
type SubjectCapability struct {
	ID                 uint   `gorm:"primaryKey"`
	GrantID            string `gorm:"index;not null;type:varchar(36)"`
	SubjectID          string `gorm:"index"`
	CanCreateQuestions bool
	CanUploadSyllabus  bool
}

// NotificationRecord is the durable persistence form of a notification.
// Metadata round-trips through the gorm JSON serializer.
type NotificationRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Type        string `gorm:"type:varchar(32)"`
	Priority    string `gorm:"type:varchar(16)"`
	Status      string `gorm:"type:varchar(16);index:idx_notifications_status"`
	Title       string
	Message     string `gorm:"type:text"`
	Component   string
	Recipient   string         `gorm:"index:idx_notifications_recipient"`
	RelatedType string         `gorm:"index:idx_notifications_related"`
	RelatedID   string         `gorm:"index:idx_notifications_related"`
	Metadata    map[string]any `gorm:"serializer:json"`

	ReadAt         *time.Time
	AcknowledgedAt *time.Time
	DismissedAt    *time.Time
	ExpiresAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
