package constants

import "time"

// Database Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings
	DefaultPostgresMaxConnections = 25
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	// SQLite pragmas
	DefaultSQLiteBusyTimeoutMS = 5000

	// Default table names
	DefaultMigrationRunsTable = "migration_runs"
	MigrationRunsSuffix       = "_migration_runs"
)

// Time and Duration Constants
const (
	// Connection pool lifetimes
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Migration Constants
const (
	// DefaultBackfillPageSize bounds the rows fetched and mutated per backfill batch.
	DefaultBackfillPageSize = 500

	// LibraryConfigExtension is the file suffix of persisted library configs.
	LibraryConfigExtension = ".sdlibrary"

	// LockFileSuffix is appended to a document path while it is being migrated.
	LockFileSuffix = ".lock"
)
