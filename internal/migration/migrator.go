// Package migration brings versioned documents, and the store rows that
// correlate with them, forward to the newest schema version one step at a time.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/store"
)

// DefaultFunc synthesises a document when none exists at path.
type DefaultFunc func(path string) (document.Document, error)

// Recorder persists one entry per attempted step.
type Recorder interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// Result describes a finished Run.
type Result struct {
	Path    string
	From    int
	To      int
	Applied []int
}

// Migrated reports whether the document changed version.
func (r *Result) Migrated() bool {
	return r != nil && r.To > r.From
}

// Engine runs a step table against documents of one type.
type Engine[C any] struct {
	Table   *StepTable[C]
	Docs    document.Store
	Default DefaultFunc
	// Recorder is optional. Recording failures are logged, not returned.
	Recorder Recorder
	Metrics  *Metrics
	Logger   *common.Logger
	// LockDocuments takes a lock file next to the document for the
	// duration of a run.
	LockDocuments bool
}

func (e *Engine[C]) logger() *common.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return common.GetLogger().WithComponent("migration")
}

// Current returns the newest reachable version.
func (e *Engine[C]) Current() int {
	return e.Table.Current()
}

// Migrate runs the single step that brings doc to version v. The caller
// guarantees doc is at v-1.
func (e *Engine[C]) Migrate(ctx context.Context, v int, doc document.Document, c C) error {
	logger := e.logger().WithVersion(v)
	step, ok := e.Table.Lookup(v)
	if !ok {
		err := fmt.Errorf("%w: %d (current version is %d)", ErrUnreachableVersion, v, e.Table.Current())
		logger.Error("no migration step registered", "error", err)
		return err
	}

	logger.Debug("running migration step", "step", step.Name)
	if err := step.Run(ctx, doc, c); err != nil {
		return &StepError{Version: v, Err: err}
	}
	return nil
}

// Load reads the document at path, falling back to the default factory when
// it does not exist.
func (e *Engine[C]) Load(path string) (document.Document, error) {
	doc, err := e.Docs.Load(path)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, document.ErrNotFound) {
		return nil, err
	}
	if e.Default == nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigFileMissing, path)
	}
	return e.Default(path)
}

// Pending returns the stored version of doc and the versions a Run would apply.
func (e *Engine[C]) Pending(doc document.Document) (int, []int, error) {
	stored, err := doc.Version()
	if err != nil {
		return 0, nil, fmt.Errorf("invalid document version: %w", err)
	}
	if stored < 0 {
		return stored, nil, fmt.Errorf("invalid document version: %d", stored)
	}
	if stored > e.Table.Current() {
		return stored, nil, fmt.Errorf("%w: document is at %d, newest known is %d", ErrNewerVersion, stored, e.Table.Current())
	}
	return stored, e.Table.Plan(stored), nil
}

// Run loads the document at path and applies every pending step in order.
// With LockDocuments the lock is held from before the load until after the
// save, so a concurrent run either fails with document.ErrLocked or sees the
// version this run saved.
// The document is saved, with its version set to current, only when all
// steps succeed; on failure the stored document is left untouched so the
// run can be retried.
func (e *Engine[C]) Run(ctx context.Context, path string, c C) (*Result, error) {
	logger := e.logger().WithDocument(path)

	if e.LockDocuments {
		lock, err := document.Acquire(path, e.Table.Current())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// No directory to lock in; Load reports the missing document.
		case err != nil:
			logger.Error("failed to lock document", "error", err)
			e.Metrics.observeDocument(LabelFailed)
			return nil, err
		default:
			defer func() {
				if err := lock.Release(); err != nil {
					logger.Warn("failed to release document lock", "error", err)
				}
			}()
		}
	}

	doc, err := e.Load(path)
	if err != nil {
		logger.Error("failed to load document", "error", err)
		e.Metrics.observeDocument(LabelFailed)
		return nil, err
	}

	stored, plan, err := e.Pending(doc)
	if err != nil {
		logger.Error("cannot migrate document", "error", err)
		e.Metrics.observeDocument(LabelFailed)
		return nil, err
	}
	res := &Result{Path: path, From: stored, To: stored, Applied: []int{}}
	if len(plan) == 0 {
		logger.Debug("document is up to date", "version", stored)
		e.Metrics.observeDocument(LabelNoop)
		return res, nil
	}

	logger.Info("migrating document", "from", stored, "to", e.Table.Current())
	work := doc.Clone()
	for _, v := range plan {
		if err := ctx.Err(); err != nil {
			e.Metrics.observeDocument(LabelFailed)
			return res, err
		}
		start := time.Now()
		err := e.Migrate(ctx, v, work, c)
		took := time.Since(start)
		e.Metrics.observeStep(v, took, err)
		e.record(ctx, path, v, took, err)
		if err != nil {
			logger.Error("migration step failed", "version", v, "error", err)
			e.Metrics.observeDocument(LabelFailed)
			return res, err
		}
		res.Applied = append(res.Applied, v)
		logger.Info("migration step applied", "version", v, "duration", took)
	}

	work.SetVersion(e.Table.Current())
	if err := e.Docs.Save(path, work); err != nil {
		logger.Error("failed to save migrated document", "error", err)
		e.Metrics.observeDocument(LabelFailed)
		return res, fmt.Errorf("save %s: %w", path, err)
	}
	res.To = e.Table.Current()
	e.Metrics.observeDocument(LabelMigrated)
	logger.Info("document migrated", "from", res.From, "to", res.To, "steps", len(res.Applied))
	return res, nil
}

func (e *Engine[C]) record(ctx context.Context, path string, v int, took time.Duration, err error) {
	if e.Recorder == nil {
		return
	}
	run := store.Run{
		Document: path,
		Version:  v,
		Status:   store.RunStatusApplied,
		Duration: took,
		RanAt:    time.Now(),
	}
	if err != nil {
		run.Status = store.RunStatusFailed
		run.Error = err.Error()
		run.Failed = true
	}
	if rerr := e.Recorder.RecordRun(ctx, run); rerr != nil {
		e.logger().WithDocument(path).Warn("failed to record migration run", "version", v, "error", rerr)
	}
}
