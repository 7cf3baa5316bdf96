package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

func TestAddAndResolveFlag(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	flagged, err := ledger.AddFlag(uploaded.ID, datastore.FlagManual, datastore.SeverityHigh, "handwriting illegible on page 2", "T1")
	require.NoError(t, err)
	require.Len(t, flagged.Flags, 1)
	assert.Equal(t, 0, flagged.Flags[0].Position)
	assert.False(t, flagged.Flags[0].Resolved)

	resolved, err := ledger.ResolveFlag(uploaded.ID, 0, "A1", "checked")
	require.NoError(t, err)
	assert.True(t, resolved.Flags[0].Resolved)
	assert.Equal(t, "A1", resolved.Flags[0].ResolvedBy)
	assert.NotNil(t, resolved.Flags[0].ResolvedAt)

	// second resolution of the same index fails
	_, err = ledger.ResolveFlag(uploaded.ID, 0, "A1", "checked again")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "already resolved")
}

func TestResolveFlagOutOfRange(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.ResolveFlag(uploaded.ID, 3, "A1", "notes")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestResolveFlagUnknownSheet(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.ResolveFlag("missing-sheet", 0, "A1", "notes")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestFlagPositionsAreStable(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.AddFlag(uploaded.ID, datastore.FlagManual, datastore.SeverityLow, "first", "T1")
	require.NoError(t, err)
	flagged, err := ledger.AddFlag(uploaded.ID, datastore.FlagManual, datastore.SeverityLow, "second", "T1")
	require.NoError(t, err)

	require.Len(t, flagged.Flags, 2)
	assert.Equal(t, 0, flagged.Flags[0].Position)
	assert.Equal(t, 1, flagged.Flags[1].Position)
}

func TestBulkResolveFlags(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	store := newFakeStore()
	store.exams["E1"] = &datastore.Exam{ID: "E1", ClassID: "C1", MaxMarks: 100}
	store.students["S1"] = &datastore.Student{ID: "S1", RollNumber: "1", ClassID: "C1"}
	store.students["S2"] = &datastore.Student{ID: "S2", RollNumber: "2", ClassID: "C1"}
	ledger = NewLedger(store, nil, testSettings())

	first, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)
	second, err := ledger.RecordUpload("E1", "S2", "scans/s2.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.AddFlag(first.ID, datastore.FlagManual, datastore.SeverityLow, "flag one", "T1")
	require.NoError(t, err)
	_, err = ledger.AddFlag(second.ID, datastore.FlagManual, datastore.SeverityLow, "flag two", "T1")
	require.NoError(t, err)

	resolved, err := ledger.BulkResolveFlags([]string{first.ID, second.ID, "missing"}, "A1", "batch cleanup")
	require.Error(t, err) // the unknown sheet surfaces as the first error
	assert.Equal(t, 2, resolved)
}

func TestAutoDetectFlagsPure(t *testing.T) {
	t.Parallel()
	cfg := &conf.CorrectionSettings{LowConfidenceThreshold: 0.5, RollNumberMinConfidence: 0.75}

	tests := []struct {
		name     string
		result   CorrectionResult
		expected []datastore.FlagType
	}{
		{
			name: "clean result",
			result: CorrectionResult{
				Confidence:           0.9,
				ScanQuality:          datastore.QualityGood,
				AlignmentOK:          true,
				DetectedRollNumber:   "17",
				RollNumberConfidence: 0.9,
			},
			expected: nil,
		},
		{
			name: "unreadable scan",
			result: CorrectionResult{
				Confidence:           0.9,
				ScanQuality:          datastore.QualityUnreadable,
				AlignmentOK:          true,
				DetectedRollNumber:   "17",
				RollNumberConfidence: 0.9,
			},
			expected: []datastore.FlagType{datastore.FlagPoorScanQuality},
		},
		{
			name: "misaligned low confidence",
			result: CorrectionResult{
				Confidence:           0.3,
				ScanQuality:          datastore.QualityFair,
				AlignmentOK:          false,
				DetectedRollNumber:   "17",
				RollNumberConfidence: 0.9,
			},
			expected: []datastore.FlagType{datastore.FlagAlignment, datastore.FlagLowConfidence},
		},
		{
			name: "roll number mismatch",
			result: CorrectionResult{
				Confidence:           0.9,
				ScanQuality:          datastore.QualityGood,
				AlignmentOK:          true,
				DetectedRollNumber:   "23",
				RollNumberConfidence: 0.95,
			},
			expected: []datastore.FlagType{datastore.FlagRollNumberMismatch},
		},
		{
			name: "blank answers",
			result: CorrectionResult{
				Confidence:           0.9,
				ScanQuality:          datastore.QualityGood,
				AlignmentOK:          true,
				DetectedRollNumber:   "17",
				RollNumberConfidence: 0.9,
				Questions: []QuestionScore{
					{QuestionID: "Q1", Answer: "B"},
					{QuestionID: "Q2", Answer: "  "},
				},
			},
			expected: []datastore.FlagType{datastore.FlagBlankAnswers},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			flags := AutoDetectFlags(&tc.result, "17", cfg)
			var types []datastore.FlagType
			for _, flag := range flags {
				types = append(types, flag.Type)
			}
			assert.Equal(t, tc.expected, types)
		})
	}
}

func TestAutoDetectFlagsAppendsNotOverwrites(t *testing.T) {
	t.Parallel()
	ledger, _, _ := newTestLedger(t)

	uploaded, err := ledger.RecordUpload("E1", "S1", "scans/s1.pdf", "T1")
	require.NoError(t, err)

	_, err = ledger.AddFlag(uploaded.ID, datastore.FlagManual, datastore.SeverityLow, "pre-existing manual flag", "T1")
	require.NoError(t, err)

	corrected, err := ledger.IngestCorrectionResult(uploaded.ID, &CorrectionResult{
		Confidence:           0.2,
		ScanQuality:          datastore.QualityGood,
		AlignmentOK:          true,
		DetectedRollNumber:   "17",
		RollNumberConfidence: 0.9,
	})
	require.NoError(t, err)

	require.Len(t, corrected.Flags, 2)
	assert.Equal(t, datastore.FlagManual, corrected.Flags[0].Type)
	assert.Equal(t, datastore.FlagLowConfidence, corrected.Flags[1].Type)
	assert.Equal(t, 1, corrected.Flags[1].Position)
}
