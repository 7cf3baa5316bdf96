// Package sheet owns the answer-sheet lifecycle: upload, correction ingestion,
// manual override, terminal missing/absent states, completion, and the
// per-sheet quality flags with their resolution lifecycle.
package sheet

import (
	"github.com/examtrack/examtrack-go/internal/datastore"
)

// sheetTransitions defines the forward-only status machine. Missing and
// absent are terminal for grading and reachable from any pre-completion state.
var sheetTransitions = map[datastore.SheetStatus][]datastore.SheetStatus{
	datastore.SheetUploaded:         {datastore.SheetProcessing, datastore.SheetAICorrected, datastore.SheetMissing, datastore.SheetAbsent},
	datastore.SheetProcessing:       {datastore.SheetAICorrected, datastore.SheetMissing, datastore.SheetAbsent},
	datastore.SheetAICorrected:      {datastore.SheetManuallyReviewed, datastore.SheetCompleted, datastore.SheetMissing, datastore.SheetAbsent},
	datastore.SheetManuallyReviewed: {datastore.SheetManuallyReviewed, datastore.SheetCompleted, datastore.SheetMissing, datastore.SheetAbsent},
	datastore.SheetCompleted:        {},
	datastore.SheetMissing:          {},
	datastore.SheetAbsent:           {},
}

// CanTransition reports whether moving a sheet from one status to another is
// allowed by the lifecycle.
func CanTransition(from, to datastore.SheetStatus) bool {
	for _, next := range sheetTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// preCompletionStatuses are the states a sheet can leave via a terminal
// missing/absent transition.
func preCompletionStatuses() []datastore.SheetStatus {
	return []datastore.SheetStatus{
		datastore.SheetUploaded,
		datastore.SheetProcessing,
		datastore.SheetAICorrected,
		datastore.SheetManuallyReviewed,
	}
}

// IsTerminal reports whether the status ends the grading lifecycle.
func IsTerminal(status datastore.SheetStatus) bool {
	return status == datastore.SheetCompleted ||
		status == datastore.SheetMissing ||
		status == datastore.SheetAbsent
}
