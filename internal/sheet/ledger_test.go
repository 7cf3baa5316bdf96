package sheet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

// fakeStore is an in-memory stand-in for the datastore. Unimplemented
// Interface methods come from the embedded nil interface and panic if
// reached, which keeps the fake honest about what the ledger touches.
type fakeStore struct {
	datastore.Interface
	mu       sync.Mutex
	exams    map[string]*datastore.Exam
	students map[string]*datastore.Student
	sheets   map[string]*datastore.AnswerSheet
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		exams:    make(map[string]*datastore.Exam),
		students: make(map[string]*datastore.Student),
		sheets:   make(map[string]*datastore.AnswerSheet),
	}
}

func (f *fakeStore) GetExam(id string) (*datastore.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exam, ok := f.exams[id]; ok {
		return exam, nil
	}
	return nil, errors.Newf("exam not found").Category(errors.CategoryNotFound).Build()
}

func (f *fakeStore) GetStudent(id string) (*datastore.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if student, ok := f.students[id]; ok {
		return student, nil
	}
	return nil, errors.Newf("student not found").Category(errors.CategoryNotFound).Build()
}

func (f *fakeStore) CreateAnswerSheet(sheet *datastore.AnswerSheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sheets {
		if existing.ExamID == sheet.ExamID && existing.StudentID == sheet.StudentID && existing.IsActive {
			return errors.Newf("an active answer sheet already exists").
				Category(errors.CategoryConflict).Build()
		}
	}
	copied := *sheet
	f.sheets[sheet.ID] = &copied
	return nil
}

func (f *fakeStore) GetAnswerSheet(id string) (*datastore.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sheet, ok := f.sheets[id]; ok {
		copied := *sheet
		return &copied, nil
	}
	return nil, errors.Newf("answer sheet not found").Category(errors.CategoryNotFound).Build()
}

func (f *fakeStore) GetActiveSheet(examID, studentID string) (*datastore.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sheet := range f.sheets {
		if sheet.ExamID == examID && sheet.StudentID == studentID && sheet.IsActive {
			copied := *sheet
			return &copied, nil
		}
	}
	return nil, errors.Newf("no active answer sheet").Category(errors.CategoryNotFound).Build()
}

func (f *fakeStore) SaveAnswerSheet(sheet *datastore.AnswerSheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sheet
	f.sheets[sheet.ID] = &copied
	return nil
}

func (f *fakeStore) UpdateSheetStatusIf(id string, expected []datastore.SheetStatus, to datastore.SheetStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sheet, ok := f.sheets[id]
	if !ok {
		return false, nil
	}
	for _, status := range expected {
		if sheet.Status == status {
			sheet.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListSheetsByExam(examID string) ([]datastore.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sheets []datastore.AnswerSheet
	for _, sheet := range f.sheets {
		if sheet.ExamID == examID {
			sheets = append(sheets, *sheet)
		}
	}
	return sheets, nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []datastore.IncidentType
	err     error
}

func (f *fakeReporter) Report(examID, studentID string, incidentType datastore.IncidentType, reason string, priority datastore.IncidentPriority, reportedBy string) (*datastore.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reports = append(f.reports, incidentType)
	return &datastore.Incident{Type: incidentType}, nil
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Correction: conf.CorrectionSettings{
			LowConfidenceThreshold:  0.5,
			RollNumberMinConfidence: 0.75,
		},
	}
}

func newTestLedger(t *testing.T) (*Ledger, *fakeStore, *fakeReporter) {
	t.Helper()
	store := newFakeStore()
	store.exams["E1"] = &datastore.Exam{ID: "E1", Name: "Midterm", ClassID: "C1", MaxMarks: 100}
	store.students["S1"] = &datastore.Student{ID: "S1", Name: "Asha", RollNumber: "17", ClassID: "C1"}
	reporter := &fakeReporter{}
	return NewLedger(store, reporter, testSettings()), store, reporter
}

func TestRecordUploadCreatesUploadedSheet(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	sheet, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetUploaded, sheet.Status)
	assert.Equal(t, 100.0, sheet.MaxMarks)
	assert.True(t, sheet.IsActive)
}

func TestRecordUploadDuplicateConflicts(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.RecordUpload("E1", "S1", "scans/s1-again.pdf", "T1")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestRecordUploadUnknownExam(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.RecordUpload("nope", "S1", "scans/s1.pdf", "T1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestIngestCorrectionResult(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	result := &CorrectionResult{
		Confidence:           0.9,
		TotalMarks:           72,
		MaxMarks:             100,
		ScanQuality:          datastore.QualityGood,
		AlignmentOK:          true,
		DetectedRollNumber:   "17",
		RollNumberConfidence: 0.95,
		Questions: []QuestionScore{
			{QuestionID: "Q1", Answer: "B", Marks: 40, MaxMarks: 50, Confidence: 0.92},
			{QuestionID: "Q2", Answer: "C", Marks: 32, MaxMarks: 50, Confidence: 0.88},
		},
	}
	corrected, err := ledger.IngestCorrectionResult(uploaded.ID, result)
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetAICorrected, corrected.Status)
	assert.Equal(t, 72.0, corrected.TotalMarks)
	assert.Len(t, corrected.QuestionResults, 2)
	assert.Empty(t, corrected.Flags)
}

func TestIngestCorrectionResultAddsFlags(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	result := &CorrectionResult{
		Confidence:           0.2,
		ScanQuality:          datastore.QualityPoor,
		AlignmentOK:          true,
		DetectedRollNumber:   "23",
		RollNumberConfidence: 0.9,
	}
	corrected, err := ledger.IngestCorrectionResult(uploaded.ID, result)
	require.NoError(t, err)

	types := make([]datastore.FlagType, 0, len(corrected.Flags))
	for _, flag := range corrected.Flags {
		types = append(types, flag.Type)
	}
	assert.Contains(t, types, datastore.FlagLowConfidence)
	assert.Contains(t, types, datastore.FlagPoorScanQuality)
	assert.Contains(t, types, datastore.FlagRollNumberMismatch)
}

func TestIngestCorrectionRejectedAfterCompletion(t *testing.T) {
	t.Parallel()
	ledger, store, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)
	store.sheets[uploaded.ID].Status = datastore.SheetCompleted

	_, err = ledger.IngestCorrectionResult(uploaded.ID, &CorrectionResult{Confidence: 0.9, AlignmentOK: true, RollNumberConfidence: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestApplyManualOverrideValidation(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.ApplyManualOverride(uploaded.ID, "Q1", "A", 10, "T1", "too short")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = ledger.ApplyManualOverride(uploaded.ID, "Q1", "A", -1, "T1", "marks were wrongly totalled")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestApplyManualOverrideRecomputesTotal(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)
	_, err = ledger.IngestCorrectionResult(uploaded.ID, &CorrectionResult{
		Confidence:           0.9,
		AlignmentOK:          true,
		RollNumberConfidence: 0.9,
		DetectedRollNumber:   "17",
		TotalMarks:           70,
		Questions: []QuestionScore{
			{QuestionID: "Q1", Answer: "B", Marks: 40, MaxMarks: 50, Confidence: 0.9},
			{QuestionID: "Q2", Answer: "C", Marks: 30, MaxMarks: 50, Confidence: 0.9},
		},
	})
	require.NoError(t, err)

	reviewed, err := ledger.ApplyManualOverride(uploaded.ID, "Q2", "D", 45, "T1", "partial credit for working shown")
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetManuallyReviewed, reviewed.Status)
	assert.Equal(t, 85.0, reviewed.TotalMarks)
	require.Len(t, reviewed.Overrides, 1)
	assert.Equal(t, "T1", reviewed.Overrides[0].Author)
}

func TestMarkMissingFilesIncident(t *testing.T) {
	t.Parallel()
	ledger, _, reporter := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	missing, err := ledger.MarkMissing(uploaded.ID, "bundle lost in transit", "T1")
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetMissing, missing.Status)
	assert.True(t, missing.IsMissing)
	assert.Equal(t, []datastore.IncidentType{datastore.IncidentMissingSheet}, reporter.reports)
}

func TestMarkAbsentWithoutSheetStillReports(t *testing.T) {
	t.Parallel()
	ledger, _, reporter := newTestLedger(t)

	sheet, err := ledger.MarkAbsent("E1", "S1", "medical leave", "T1")
	require.NoError(t, err)
	assert.Nil(t, sheet)
	assert.Equal(t, []datastore.IncidentType{datastore.IncidentAbsent}, reporter.reports)
}

func TestCompleteRequiresResolvedFlags(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)
	_, err = ledger.IngestCorrectionResult(uploaded.ID, &CorrectionResult{
		Confidence:           0.2, // low confidence raises a flag
		AlignmentOK:          true,
		DetectedRollNumber:   "17",
		RollNumberConfidence: 0.9,
	})
	require.NoError(t, err)

	_, err = ledger.Complete(uploaded.ID, "A1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	_, err = ledger.ResolveAllFlags(uploaded.ID, "A1", "verified manually")
	require.NoError(t, err)

	completed, err := ledger.Complete(uploaded.ID, "A1")
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetCompleted, completed.Status)

	// idempotent second call
	again, err := ledger.Complete(uploaded.ID, "A1")
	require.NoError(t, err)
	assert.Equal(t, datastore.SheetCompleted, again.Status)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	assert.True(t, CanTransition(datastore.SheetUploaded, datastore.SheetAICorrected))
	assert.True(t, CanTransition(datastore.SheetAICorrected, datastore.SheetCompleted))
	assert.True(t, CanTransition(datastore.SheetProcessing, datastore.SheetAbsent))
	assert.False(t, CanTransition(datastore.SheetCompleted, datastore.SheetUploaded))
	assert.False(t, CanTransition(datastore.SheetAICorrected, datastore.SheetUploaded))
	assert.False(t, CanTransition(datastore.SheetMissing, datastore.SheetCompleted))
}
