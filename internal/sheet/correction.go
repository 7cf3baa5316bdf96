package sheet

import (
	"fmt"
	"strings"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
)

// QuestionScore is one per-question entry of a correction result.
type QuestionScore struct {
	QuestionID string  `json:"questionId" validate:"required"`
	Answer     string  `json:"answer"`
	Marks      float64 `json:"marks" validate:"gte=0"`
	MaxMarks   float64 `json:"maxMarks" validate:"gte=0"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// CorrectionResult is the structured output of the automated correction
// capability, ingested into a sheet in one operation.
type CorrectionResult struct {
	Confidence           float64               `json:"confidence" validate:"gte=0,lte=1"`
	TotalMarks           float64               `json:"totalMarks" validate:"gte=0"`
	MaxMarks             float64               `json:"maxMarks" validate:"gte=0"`
	ScanQuality          datastore.ScanQuality `json:"scanQuality"`
	AlignmentOK          bool                  `json:"alignmentOk"`
	DetectedRollNumber   string                `json:"detectedRollNumber"`
	RollNumberConfidence float64               `json:"rollNumberConfidence" validate:"gte=0,lte=1"`
	Questions            []QuestionScore       `json:"questions"`
}

// AutoDetectFlags derives candidate flags from a correction result's quality
// and confidence signals. Pure: it inspects, never mutates, and the caller
// decides what to append. expectedRollNumber is the student's registered roll
// number, used for mismatch detection.
func AutoDetectFlags(result *CorrectionResult, expectedRollNumber string, cfg *conf.CorrectionSettings) []datastore.SheetFlag {
	var flags []datastore.SheetFlag

	if result.ScanQuality == datastore.QualityPoor || result.ScanQuality == datastore.QualityUnreadable {
		flags = append(flags, datastore.SheetFlag{
			Type:        datastore.FlagPoorScanQuality,
			Severity:    scanQualitySeverity(result.ScanQuality),
			Description: fmt.Sprintf("scan quality graded %s", result.ScanQuality),
			DetectedBy:  "auto",
		})
	}

	if !result.AlignmentOK {
		flags = append(flags, datastore.SheetFlag{
			Type:        datastore.FlagAlignment,
			Severity:    datastore.SeverityMedium,
			Description: "sheet alignment check failed",
			DetectedBy:  "auto",
		})
	}

	if result.Confidence < cfg.LowConfidenceThreshold {
		flags = append(flags, datastore.SheetFlag{
			Type:     datastore.FlagLowConfidence,
			Severity: datastore.SeverityHigh,
			Description: fmt.Sprintf("correction confidence %.2f below threshold %.2f",
				result.Confidence, cfg.LowConfidenceThreshold),
			DetectedBy: "auto",
		})
	}

	rollMismatch := expectedRollNumber != "" &&
		result.DetectedRollNumber != "" &&
		result.DetectedRollNumber != expectedRollNumber
	rollUncertain := result.RollNumberConfidence < cfg.RollNumberMinConfidence
	if rollMismatch || rollUncertain {
		desc := fmt.Sprintf("detected roll number %q with confidence %.2f",
			result.DetectedRollNumber, result.RollNumberConfidence)
		severity := datastore.SeverityMedium
		if rollMismatch {
			desc = fmt.Sprintf("detected roll number %q does not match registered %q",
				result.DetectedRollNumber, expectedRollNumber)
			severity = datastore.SeverityCritical
		}
		flags = append(flags, datastore.SheetFlag{
			Type:        datastore.FlagRollNumberMismatch,
			Severity:    severity,
			Description: desc,
			DetectedBy:  "auto",
		})
	}

	if blanks := countBlankAnswers(result.Questions); blanks > 0 {
		flags = append(flags, datastore.SheetFlag{
			Type:        datastore.FlagBlankAnswers,
			Severity:    datastore.SeverityLow,
			Description: fmt.Sprintf("%d questions with blank answers", blanks),
			DetectedBy:  "auto",
		})
	}

	return flags
}

func scanQualitySeverity(quality datastore.ScanQuality) datastore.FlagSeverity {
	if quality == datastore.QualityUnreadable {
		return datastore.SeverityCritical
	}
	return datastore.SeverityHigh
}

func countBlankAnswers(questions []QuestionScore) int {
	blanks := 0
	for i := range questions {
		if strings.TrimSpace(questions[i].Answer) == "" {
			blanks++
		}
	}
	return blanks
}
