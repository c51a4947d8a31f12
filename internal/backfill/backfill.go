// Package backfill converts every row matching a predicate in bounded pages.
// Each page is read, converted and written back as one unit; converted rows
// leave the predicate so the loop always makes progress.
package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/constants"
)

// ErrBackfillIncomplete means rows still matched the predicate after the
// planned number of pages. Running the backfill again resumes it.
var ErrBackfillIncomplete = errors.New("backfill incomplete")

// RowConversionError describes a single row whose value could not be
// converted. It is logged and counted, never returned from Run.
type RowConversionError struct {
	Backfill string
	RowID    any
	Err      error
}

func (e *RowConversionError) Error() string {
	return fmt.Sprintf("backfill %s: row %v: %v", e.Backfill, e.RowID, e.Err)
}

func (e *RowConversionError) Unwrap() error { return e.Err }

// Spec describes one backfill over rows of type R producing mutations of type M.
type Spec[R, M any] struct {
	// Name identifies the backfill in logs and errors.
	Name string
	// PageSize bounds rows fetched and mutations applied per page.
	PageSize int

	// Count returns how many rows still match the predicate.
	Count func(ctx context.Context) (int, error)
	// Fetch returns up to limit rows that match the predicate.
	Fetch func(ctx context.Context, limit int) ([]R, error)
	// Convert builds the mutation moving a row out of the predicate.
	Convert func(row R) (M, error)
	// Clear builds the mutation used when Convert fails. It must also move
	// the row out of the predicate.
	Clear func(row R) M
	// Apply writes one page of mutations as a unit.
	Apply func(ctx context.Context, mutations []M) error
	// RowID identifies a row in logs.
	RowID func(row R) any

	Logger *common.Logger
}

// Stats summarises a finished backfill.
type Stats struct {
	Matched   int
	Pages     int
	Converted int
	Failed    int
}

func (s Spec[R, M]) validate() error {
	switch {
	case s.Count == nil:
		return errors.New("backfill: Count is required")
	case s.Fetch == nil:
		return errors.New("backfill: Fetch is required")
	case s.Convert == nil:
		return errors.New("backfill: Convert is required")
	case s.Clear == nil:
		return errors.New("backfill: Clear is required")
	case s.Apply == nil:
		return errors.New("backfill: Apply is required")
	}
	return nil
}

// Run drives the backfill to completion. It fetches at most ceil(R/P) pages,
// where R is the initial match count and P the page size, and then verifies
// that no row matches any more.
func Run[R, M any](ctx context.Context, spec Spec[R, M]) (Stats, error) {
	var stats Stats
	if err := spec.validate(); err != nil {
		return stats, err
	}
	size := spec.PageSize
	if size <= 0 {
		size = constants.DefaultBackfillPageSize
	}
	logger := spec.Logger
	if logger == nil {
		logger = common.GetLogger()
	}
	logger = logger.WithComponent("backfill").WithFields("backfill", spec.Name)
	rowID := spec.RowID
	if rowID == nil {
		rowID = func(R) any { return "?" }
	}

	matched, err := spec.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("backfill %s: count: %w", spec.Name, err)
	}
	stats.Matched = matched
	pages := (matched + size - 1) / size
	logger.Debug("backfill planned", "rows", matched, "page_size", size, "pages", pages)

	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := spec.Fetch(ctx, size)
		if err != nil {
			return stats, fmt.Errorf("backfill %s: fetch page %d: %w", spec.Name, page+1, err)
		}
		if len(rows) == 0 {
			break
		}

		mutations := make([]M, 0, len(rows))
		failed := 0
		for _, row := range rows {
			m, err := spec.Convert(row)
			if err != nil {
				var convErr *RowConversionError
				if !errors.As(err, &convErr) {
					convErr = &RowConversionError{Backfill: spec.Name, RowID: rowID(row), Err: err}
				}
				logger.Warn("row conversion failed, clearing value", "row", convErr.RowID, "error", convErr.Err)
				failed++
				m = spec.Clear(row)
			}
			mutations = append(mutations, m)
		}

		if err := spec.Apply(ctx, mutations); err != nil {
			return stats, fmt.Errorf("backfill %s: apply page %d: %w", spec.Name, page+1, err)
		}
		stats.Pages++
		stats.Converted += len(rows) - failed
		stats.Failed += failed
		logger.Debug("backfill page applied", "page", page+1, "rows", len(rows), "failed", failed)

		if len(rows) < size {
			break
		}
	}

	left, err := spec.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("backfill %s: count remaining: %w", spec.Name, err)
	}
	if left != 0 {
		logger.Error("backfill left matching rows", "remaining", left, "pages", stats.Pages)
		return stats, fmt.Errorf("%w: %s: %d rows still match after %d pages", ErrBackfillIncomplete, spec.Name, left, stats.Pages)
	}
	logger.Info("backfill complete", "converted", stats.Converted, "failed", stats.Failed, "pages", stats.Pages)
	return stats, nil
}
