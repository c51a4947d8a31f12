package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run statuses recorded in the history table.
const (
	RunStatusApplied = "applied"
	RunStatusFailed  = "failed"
)

// Run is one attempt to migrate a document to a single version.
type Run struct {
	ID       int64
	Document string
	Version  int
	Status   string
	Error    string
	Duration time.Duration
	Failed   bool
	RanAt    time.Time
}

// RecordRun appends a step attempt to the migration run history.
func (s *DB) RecordRun(ctx context.Context, run Run) error {
	logger := s.logger.WithVersion(run.Version)
	ranAt := run.RanAt
	if ranAt.IsZero() {
		ranAt = time.Now()
	}
	var errText interface{}
	if run.Error != "" {
		errText = run.Error
	}

	q := s.Builder().Insert(s.runs).
		Columns("document", "version", "status", "error", "duration_ms", "failed", "ran_at").
		Values(run.Document, run.Version, run.Status, errText, run.Duration.Milliseconds(),
			s.dialect.ConvertBoolToStorage(run.Failed), s.dialect.ConvertTimeToStorage(ranAt))
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("%w: build run record: %w", ErrOperationFailed, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		logger.Error("failed to record migration run", "error", err)
		return fmt.Errorf("%w: record run (document %s, version %d): %w", ErrOperationFailed, run.Document, run.Version, err)
	}
	logger.Debug("migration run recorded", "status", run.Status)
	return nil
}

// ListRuns returns the run history ordered by id. An empty document lists all runs.
func (s *DB) ListRuns(ctx context.Context, document string) ([]Run, error) {
	q := s.Builder().
		Select("id", "document", "version", "status", "error", "duration_ms", "failed", "ran_at").
		From(s.runs).
		OrderBy("id ASC")
	if document != "" {
		q = q.Where("document = ?", document)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build list runs: %w", ErrOperationFailed, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("failed to query migration runs", "error", err)
		return nil, fmt.Errorf("%w: list runs: %w", ErrOperationFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			errText    sql.NullString
			durationMS int64
			failed     interface{}
			ranAt      interface{}
		)
		if err := rows.Scan(&run.ID, &run.Document, &run.Version, &run.Status, &errText, &durationMS, &failed, &ranAt); err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", ErrOperationFailed, err)
		}
		run.Error = errText.String
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.Failed = s.dialect.ConvertBoolFromStorage(failed)
		run.RanAt = s.dialect.ConvertTimeFromStorage(ranAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate runs: %w", ErrOperationFailed, err)
	}
	return runs, nil
}
