package sheet

import (
	"time"

	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

// AddFlag appends a flag to the sheet. The flag's position is its stable
// creation-order index, used by ResolveFlag.
func (l *Ledger) AddFlag(sheetID string, flagType datastore.FlagType, severity datastore.FlagSeverity, description, detectedBy string) (*datastore.AnswerSheet, error) {
	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	appendFlags(sheet, []datastore.SheetFlag{{
		Type:        flagType,
		Severity:    severity,
		Description: description,
		DetectedBy:  detectedBy,
	}})

	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.log.Info("flag added",
		"sheet_id", sheetID,
		"flag_type", flagType,
		"severity", severity,
		"detected_by", detectedBy)
	return sheet, nil
}

// ResolveFlag marks the flag at the given creation-order index resolved.
// Out-of-range indexes and already-resolved flags are rejected.
func (l *Ledger) ResolveFlag(sheetID string, index int, resolvedBy, notes string) (*datastore.AnswerSheet, error) {
	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return nil, err
	}

	flag := flagAtPosition(sheet, index)
	if flag == nil {
		return nil, errors.Newf("flag index %d out of range", index).
			Component("sheet").
			Category(errors.CategoryValidation).
			EntityContext("answer_sheet", sheetID).
			Context("flag_index", index).
			Build()
	}
	if flag.Resolved {
		return nil, errors.Newf("flag is already resolved").
			Component("sheet").
			Category(errors.CategoryValidation).
			EntityContext("answer_sheet", sheetID).
			Context("flag_index", index).
			Build()
	}

	resolveFlag(flag, resolvedBy, notes)
	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return nil, err
	}

	l.log.Info("flag resolved",
		"sheet_id", sheetID,
		"flag_index", index,
		"resolved_by", resolvedBy)
	return sheet, nil
}

// ResolveAllFlags resolves every unresolved flag on the sheet and reports how
// many changed.
func (l *Ledger) ResolveAllFlags(sheetID, resolvedBy, notes string) (int, error) {
	sheet, err := l.store.GetAnswerSheet(sheetID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range sheet.Flags {
		if sheet.Flags[i].Resolved {
			continue
		}
		resolveFlag(&sheet.Flags[i], resolvedBy, notes)
		resolved++
	}
	if resolved == 0 {
		return 0, nil
	}

	if err := l.store.SaveAnswerSheet(sheet); err != nil {
		return 0, err
	}
	l.log.Info("all flags resolved", "sheet_id", sheetID, "count", resolved, "resolved_by", resolvedBy)
	return resolved, nil
}

// BulkResolveFlags resolves every flag across the given sheets. Sheets that
// fail are skipped; the error from the first failure is returned alongside
// the count resolved so far.
func (l *Ledger) BulkResolveFlags(sheetIDs []string, resolvedBy, notes string) (int, error) {
	total := 0
	var firstErr error
	for _, sheetID := range sheetIDs {
		resolved, err := l.ResolveAllFlags(sheetID, resolvedBy, notes)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			l.log.Error("bulk flag resolution failed for sheet", "sheet_id", sheetID, "error", err)
			continue
		}
		total += resolved
	}
	return total, firstErr
}

// appendFlags attaches candidate flags to the sheet, assigning positions
// after the current highest.
func appendFlags(sheet *datastore.AnswerSheet, candidates []datastore.SheetFlag) {
	next := nextFlagPosition(sheet)
	now := time.Now()
	for _, candidate := range candidates {
		candidate.SheetID = sheet.ID
		candidate.Position = next
		candidate.CreatedAt = now
		sheet.Flags = append(sheet.Flags, candidate)
		next++
	}
}

func nextFlagPosition(sheet *datastore.AnswerSheet) int {
	next := 0
	for i := range sheet.Flags {
		if sheet.Flags[i].Position >= next {
			next = sheet.Flags[i].Position + 1
		}
	}
	return next
}

func flagAtPosition(sheet *datastore.AnswerSheet, position int) *datastore.SheetFlag {
	for i := range sheet.Flags {
		if sheet.Flags[i].Position == position {
			return &sheet.Flags[i]
		}
	}
	return nil
}

func resolveFlag(flag *datastore.SheetFlag, resolvedBy, notes string) {
	now := time.Now()
	flag.Resolved = true
	flag.ResolvedBy = resolvedBy
	flag.ResolvedAt = &now
	flag.ResolutionNotes = notes
}

func countUnresolvedFlags(sheet *datastore.AnswerSheet) int {
	count := 0
	for i := range sheet.Flags {
		if !sheet.Flags[i].Resolved {
			count++
		}
	}
	return count
}
