package migration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDocs is an in-memory document.Store that counts saves.
type memDocs struct {
	mu    sync.Mutex
	docs  map[string]document.Document
	saves int
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string]document.Document{}}
}

func (m *memDocs) Load(path string) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[path]
	if !ok {
		return nil, document.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *memDocs) Save(path string, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.docs[path] = doc.Clone()
	return nil
}

type memRecorder struct {
	runs []store.Run
	err  error
}

func (r *memRecorder) RecordRun(_ context.Context, run store.Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

// trace records which versions ran.
type trace struct{ ran []int }

func tracing(v int) VersionedStep[*trace] {
	return At[*trace](v, "trace", func(_ context.Context, doc document.Document, tr *trace) error {
		tr.ran = append(tr.ran, v)
		doc.Set("last", v)
		return nil
	})
}

func newEngine(docs document.Store, steps ...VersionedStep[*trace]) *Engine[*trace] {
	return &Engine[*trace]{
		Table:  MustStepTable(len(steps)-1, steps...),
		Docs:   docs,
		Logger: common.NewDiscardLogger(),
	}
}

func fiveSteps() []VersionedStep[*trace] {
	return []VersionedStep[*trace]{tracing(0), tracing(1), tracing(2), tracing(3), tracing(4), tracing(5)}
}

func TestRun_AppliesPendingStepsInOrder(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 2, "name": "Photos"}
	rec := &memRecorder{}
	e := newEngine(docs, fiveSteps()...)
	e.Recorder = rec

	tr := &trace{}
	res, err := e.Run(context.Background(), "lib", tr)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5}, tr.ran)
	assert.Equal(t, &Result{Path: "lib", From: 2, To: 5, Applied: []int{3, 4, 5}}, res)
	assert.True(t, res.Migrated())

	saved := docs.docs["lib"]
	v, err := saved.Version()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 5, saved["last"])
	assert.Equal(t, 1, docs.saves)

	require.Len(t, rec.runs, 3)
	for i, r := range rec.runs {
		assert.Equal(t, 3+i, r.Version)
		assert.Equal(t, store.RunStatusApplied, r.Status)
		assert.Equal(t, "lib", r.Document)
	}
}

func TestRun_UpToDateIsNoop(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 5}
	e := newEngine(docs, fiveSteps()...)

	tr := &trace{}
	res, err := e.Run(context.Background(), "lib", tr)
	require.NoError(t, err)
	assert.Empty(t, tr.ran)
	assert.False(t, res.Migrated())
	assert.Equal(t, 0, docs.saves)
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 0}
	e := newEngine(docs, fiveSteps()...)

	tr := &trace{}
	_, err := e.Run(context.Background(), "lib", tr)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), "lib", tr)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, tr.ran, "each version runs exactly once")
	assert.Equal(t, 1, docs.saves)
}

func TestRun_MissingVersionFieldIsZero(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"name": "Photos"}
	e := newEngine(docs, fiveSteps()...)

	tr := &trace{}
	res, err := e.Run(context.Background(), "lib", tr)
	require.NoError(t, err)
	assert.Equal(t, 0, res.From)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, tr.ran)
}

func TestRun_FailureLeavesDocumentUntouched(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 1}
	rec := &memRecorder{}

	boom := errors.New("node table unreadable")
	steps := fiveSteps()
	steps[3] = At[*trace](3, "boom", func(context.Context, document.Document, *trace) error { return boom })
	e := newEngine(docs, steps...)
	e.Recorder = rec

	tr := &trace{}
	res, err := e.Run(context.Background(), "lib", tr)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 3, stepErr.Version)
	assert.Contains(t, err.Error(), "version 3")

	assert.Equal(t, []int{2}, tr.ran, "steps after the failure must not run")
	assert.Equal(t, []int{2}, res.Applied)
	assert.Equal(t, 0, docs.saves)
	assert.Equal(t, document.Document{"version": 1}, docs.docs["lib"])

	require.Len(t, rec.runs, 2)
	assert.Equal(t, store.RunStatusFailed, rec.runs[1].Status)
	assert.True(t, rec.runs[1].Failed)
	assert.Contains(t, rec.runs[1].Error, boom.Error())
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 4}
	e := newEngine(docs, fiveSteps()...)
	e.Recorder = &memRecorder{err: errors.New("history table missing")}

	_, err := e.Run(context.Background(), "lib", &trace{})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.saves)
}

func TestRun_NewerVersionRejected(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 9}
	e := newEngine(docs, fiveSteps()...)

	_, err := e.Run(context.Background(), "lib", &trace{})
	require.ErrorIs(t, err, ErrNewerVersion)
	assert.Equal(t, 0, docs.saves)
}

func TestRun_InvalidVersion(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": "two"}
	e := newEngine(docs, fiveSteps()...)

	_, err := e.Run(context.Background(), "lib", &trace{})
	require.Error(t, err)

	docs.docs["lib"] = document.Document{"version": -1}
	_, err = e.Run(context.Background(), "lib", &trace{})
	require.Error(t, err)
}

func TestRun_MissingDocument(t *testing.T) {
	e := newEngine(newMemDocs(), fiveSteps()...)

	_, err := e.Run(context.Background(), "nope", &trace{})
	require.ErrorIs(t, err, ErrConfigFileMissing)
	assert.Contains(t, err.Error(), "nope")
}

func TestRun_DefaultFactory(t *testing.T) {
	docs := newMemDocs()
	e := newEngine(docs, fiveSteps()...)
	e.Default = func(string) (document.Document, error) {
		return document.Document{"version": 3}, nil
	}

	tr := &trace{}
	res, err := e.Run(context.Background(), "fresh", tr)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, tr.ran)
	assert.Equal(t, 5, res.To)
	assert.Contains(t, docs.docs, "fresh")

	e.Default = func(path string) (document.Document, error) {
		return nil, ErrConfigFileMissing
	}
	_, err = e.Run(context.Background(), "other", tr)
	require.ErrorIs(t, err, ErrConfigFileMissing)
}

func TestRun_ContextCanceled(t *testing.T) {
	docs := newMemDocs()
	docs.docs["lib"] = document.Document{"version": 0}
	e := newEngine(docs, fiveSteps()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, "lib", &trace{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, docs.saves)
}

func TestRun_WithFileStoreAndLock(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "lib.sdlibrary")
	require.NoError(t, os.WriteFile(p, []byte(`{"version":3,"name":"Photos"}`), 0o600))

	e := newEngine(document.FileStore{}, fiveSteps()...)
	e.LockDocuments = true

	_, err := e.Run(context.Background(), p, &trace{})
	require.NoError(t, err)
	assert.NoFileExists(t, document.LockPath(p))

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	v, ok := document.PeekVersion(raw)
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestRun_LockedDocument(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "lib.sdlibrary")
	require.NoError(t, os.WriteFile(p, []byte(`{"version":3}`), 0o600))
	held, err := document.Acquire(p, 5)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	e := newEngine(document.FileStore{}, fiveSteps()...)
	e.LockDocuments = true

	_, err = e.Run(context.Background(), p, &trace{})
	require.ErrorIs(t, err, document.ErrLocked)
}

func TestMigrate_UnreachableVersion(t *testing.T) {
	e := newEngine(newMemDocs(), fiveSteps()...)

	err := e.Migrate(context.Background(), 6, document.Document{}, &trace{})
	require.ErrorIs(t, err, ErrUnreachableVersion)
	err = e.Migrate(context.Background(), -1, document.Document{}, &trace{})
	require.ErrorIs(t, err, ErrUnreachableVersion)
}

func TestMigrate_SingleStep(t *testing.T) {
	e := newEngine(newMemDocs(), fiveSteps()...)
	doc := document.Document{"version": 1}
	tr := &trace{}

	require.NoError(t, e.Migrate(context.Background(), 2, doc, tr))
	assert.Equal(t, []int{2}, tr.ran)
	assert.Equal(t, 1, doc["version"], "Migrate never touches the version field")
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	docs := newMemDocs()
	docs.docs["a"] = document.Document{"version": 3}
	docs.docs["b"] = document.Document{"version": 5}
	e := newEngine(docs, fiveSteps()...)
	e.Metrics = NewMetrics(reg)

	_, err := e.Run(context.Background(), "a", &trace{})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), "b", &trace{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Steps.WithLabelValues("4", LabelApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Steps.WithLabelValues("5", LabelApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Documents.WithLabelValues(LabelMigrated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Documents.WithLabelValues(LabelNoop)))

	e.Metrics.ObserveBackfill("file_path.size_in_bytes", 3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(e.Metrics.BackfillRows.WithLabelValues("file_path.size_in_bytes", LabelMigrated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.BackfillRows.WithLabelValues("file_path.size_in_bytes", LabelCleared)))

	var nilMetrics *Metrics
	nilMetrics.ObserveBackfill("x", 1, 1)
}

func TestStepError(t *testing.T) {
	cause := ErrInvariantViolated
	err := &StepError{Version: 3, Err: cause}
	assert.Equal(t, "migration to version 3 failed: migration invariant violated", err.Error())
	assert.ErrorIs(t, err, ErrInvariantViolated)
}

// pausingDocs blocks right after Load until released.
type pausingDocs struct {
	document.FileStore
	loaded  chan struct{}
	proceed chan struct{}
}

func (p *pausingDocs) Load(path string) (document.Document, error) {
	doc, err := p.FileStore.Load(path)
	close(p.loaded)
	<-p.proceed
	return doc, err
}

func TestRun_LockCoversLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "lib.sdlibrary")
	require.NoError(t, os.WriteFile(p, []byte(`{"version":1,"name":"Photos"}`), 0o600))

	slow := &pausingDocs{loaded: make(chan struct{}), proceed: make(chan struct{})}
	first := newEngine(slow, fiveSteps()...)
	first.LockDocuments = true

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := first.Run(context.Background(), p, &trace{})
		done <- outcome{res, err}
	}()
	<-slow.loaded

	second := newEngine(document.FileStore{}, fiveSteps()...)
	second.LockDocuments = true
	tr := &trace{}
	_, err := second.Run(context.Background(), p, tr)
	require.ErrorIs(t, err, document.ErrLocked)
	assert.Empty(t, tr.ran)

	close(slow.proceed)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, []int{2, 3, 4, 5}, out.res.Applied)

	// Once the lock is gone the second engine reads the saved version.
	res, err := second.Run(context.Background(), p, tr)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Empty(t, tr.ran)
}

func TestRun_LockMissingDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "missing", "lib.sdlibrary")
	e := newEngine(document.FileStore{}, fiveSteps()...)
	e.LockDocuments = true
	e.Default = func(path string) (document.Document, error) {
		return nil, ErrConfigFileMissing
	}

	_, err := e.Run(context.Background(), p, &trace{})
	require.ErrorIs(t, err, ErrConfigFileMissing)
}
