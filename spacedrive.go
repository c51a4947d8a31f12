// Package spacedrive migrates library config files, and the library database
// rows that correlate with them, to the current schema version.
package spacedrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/constants"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/identity"
	"github.com/iammatthi/spacedrive/internal/library"
	"github.com/iammatthi/spacedrive/internal/migration"
	"github.com/iammatthi/spacedrive/internal/retry"
	"github.com/iammatthi/spacedrive/internal/store"
	"github.com/iammatthi/spacedrive/internal/store/postgresql"
	"github.com/iammatthi/spacedrive/internal/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Re-export commonly used types for public API

// Document is a dynamically shaped versioned document.
type Document = document.Document

// LibraryConfig is a library config at CurrentLibraryVersion.
type LibraryConfig = library.Config

// SanitisedLibraryConfig is a library config without its identity.
type SanitisedLibraryConfig = library.Sanitised

// LibraryConfigWrapped pairs a sanitised config with its library id.
type LibraryConfigWrapped = library.Wrapped

// Result describes one migrated document.
type Result = migration.Result

// StepError reports the version whose step failed.
type StepError = migration.StepError

// Metrics holds the migration collectors.
type Metrics = migration.Metrics

// Identity is a P2P identity.
type Identity = identity.Identity

// PeerID is the base58 form of an identity public key.
type PeerID = identity.PeerID

// Store is the relational store holding library entities and run history.
type Store = store.DB

// Run is one recorded migration step attempt.
type Run = store.Run

// StoreConfig selects and configures the relational store.
type StoreConfig = store.Config

// SqliteConfig configures the sqlite backend.
type SqliteConfig = sqlite.Config

// PostgresConfig configures the postgres backend.
type PostgresConfig = postgresql.Config

// RetryConfig configures retries of transient store failures.
type RetryConfig = retry.Config

// Logger is the structured logger.
type Logger = common.Logger

// LogLevel is a logging verbosity.
type LogLevel = common.LogLevel

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

const (
	DriverSqlite   = store.DriverSqlite
	DriverPostgres = store.DriverPostgres
)

// CurrentLibraryVersion is the newest library config schema.
const CurrentLibraryVersion = library.CurrentVersion

// LibraryConfigExtension is the file suffix of library configs.
const LibraryConfigExtension = constants.LibraryConfigExtension

var (
	ErrConfigFileMissing  = migration.ErrConfigFileMissing
	ErrInvariantViolated  = migration.ErrInvariantViolated
	ErrUnreachableVersion = migration.ErrUnreachableVersion
	ErrNewerVersion       = migration.ErrNewerVersion
	ErrOperationFailed    = store.ErrOperationFailed
	ErrLocked             = document.ErrLocked
)

var (
	NewLogger         = common.NewLogger
	NewJSONLogger     = common.NewJSONLogger
	NewColorLogger    = common.NewColorLogger
	SetDefaultLogger  = common.SetDefaultLogger
	GetLogger         = common.GetLogger
	EnableMasking     = common.EnableMasking
	MaskSensitiveData = common.MaskSensitiveData
)

// OpenStore connects to the configured store and bootstraps its tables.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureEntities(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewMetrics builds the migration collectors and registers them with reg when set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return migration.NewMetrics(reg)
}

// LoadNodeIdentity reads the node identity at path, creating it when missing.
func LoadNodeIdentity(path string) (*Identity, error) {
	return identity.LoadOrCreate(path)
}

// LibraryStoreFunc opens the database of the library whose config is at path.
type LibraryStoreFunc func(ctx context.Context, path string) (*Store, error)

// SqliteLibraryStores opens, for each library config, the sqlite database
// stored beside it as <library id>.db. Other settings are taken from base.
func SqliteLibraryStores(base StoreConfig) LibraryStoreFunc {
	return func(ctx context.Context, path string) (*Store, error) {
		id, err := library.IDFromPath(path)
		if err != nil {
			return nil, err
		}
		cfg := base
		cfg.Type = DriverSqlite
		cfg.SQLite = SqliteConfig{Path: LibraryDatabasePath(path, id)}
		return OpenStore(ctx, cfg)
	}
}

// LibraryDatabasePath returns the sqlite database path of library id whose
// config is at configPath.
func LibraryDatabasePath(configPath string, id uuid.UUID) string {
	return filepath.Join(filepath.Dir(configPath), id.String()+".db")
}

// Migrator migrates the library configs of one node.
//
// Steps act on the rows of the library's own database. Set LibraryStore to
// open one database per library; otherwise every library is migrated against
// Store, which then has to hold a single library.
type Migrator struct {
	Store        *Store
	LibraryStore LibraryStoreFunc
	NodeID       uuid.UUID
	Identity     *Identity

	// PageSize bounds backfill pages; zero means 500.
	PageSize int
	Metrics  *Metrics
	Logger   *Logger
	// LockDocuments takes a lock file next to each config while it migrates.
	LockDocuments bool
	// DisableHistory skips recording step attempts in the store.
	DisableHistory bool
}

func (m *Migrator) validate() error {
	if m.Store == nil && m.LibraryStore == nil {
		return fmt.Errorf("migrator has no store")
	}
	if m.NodeID == uuid.Nil {
		return fmt.Errorf("migrator has no node id")
	}
	if m.Identity == nil {
		return fmt.Errorf("migrator has no node identity")
	}
	return nil
}

// open returns the store for the library at path and a func releasing it.
func (m *Migrator) open(ctx context.Context, path string) (*Store, func(), error) {
	if m.LibraryStore == nil {
		return m.Store, func() {}, nil
	}
	st, err := m.LibraryStore(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open library store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func (m *Migrator) run(ctx context.Context, path string) (*Result, error) {
	st, release, err := m.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	opts := library.EngineOptions{
		Metrics:       m.Metrics,
		Logger:        m.Logger,
		LockDocuments: m.LockDocuments,
	}
	if !m.DisableHistory {
		opts.Recorder = st
	}
	return library.NewEngine(opts).Run(ctx, path, library.Context{
		NodeID:   m.NodeID,
		PeerID:   m.Identity.PeerID(),
		Store:    st,
		PageSize: m.PageSize,
		Metrics:  m.Metrics,
		Logger:   m.Logger,
	})
}

// MigrateLibrary brings the library config at path to CurrentLibraryVersion.
func (m *Migrator) MigrateLibrary(ctx context.Context, path string) (*Result, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m.run(ctx, path)
}

// MigrateDir migrates every library config in dir, one after another. A
// failing library does not stop the others; all failures are returned together.
// Without LibraryStore all libraries share Store, so the node and indexer rule
// rows it updates are those of one database.
func (m *Migrator) MigrateDir(ctx context.Context, dir string) ([]*Result, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	paths, err := ListLibraries(dir)
	if err != nil {
		return nil, err
	}

	var (
		results []*Result
		errs    error
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		res, err := m.run(ctx, p)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// ListLibraries returns the library config files in dir, sorted by name.
func ListLibraries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), constants.LibraryConfigExtension) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CreateLibrary writes a new library config named name into dir and returns its path.
func CreateLibrary(dir, name string, nodeID uuid.UUID) (string, *LibraryConfig, error) {
	cfg, err := library.New(name, nodeID, nil)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create libraries directory: %w", err)
	}
	p := library.PathFor(dir, uuid.New())
	if err := library.Save(document.FileStore{}, p, cfg); err != nil {
		return "", nil, err
	}
	return p, cfg, nil
}

// LoadLibrary reads a migrated library config.
func LoadLibrary(path string) (*LibraryConfig, error) {
	return library.Load(document.FileStore{}, path)
}

// LibraryID returns the library id encoded in a config file name.
func LibraryID(path string) (uuid.UUID, error) {
	return library.IDFromPath(path)
}
