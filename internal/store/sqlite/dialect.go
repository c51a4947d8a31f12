package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/iammatthi/spacedrive/internal/constants"
	_ "modernc.org/sqlite"
)

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// DriverName returns the database/sql driver name registered by modernc.org/sqlite
func (s *Dialect) DriverName() string {
	return "sqlite"
}

// Placeholder returns SQLite-style placeholders (?)
func (s *Dialect) Placeholder() sq.PlaceholderFormat {
	return sq.Question
}

// ConvertBoolToStorage converts bool to SQLite storage format (integer 0/1)
func (s *Dialect) ConvertBoolToStorage(b bool) interface{} {
	if b {
		return 1
	}
	return 0
}

// ConvertTimeToStorage converts time to SQLite storage format (RFC3339Nano string)
func (s *Dialect) ConvertTimeToStorage(t time.Time) interface{} {
	return t.UTC().Format(time.RFC3339Nano)
}

// ConvertBoolFromStorage converts SQLite integer storage to bool
func (s *Dialect) ConvertBoolFromStorage(val interface{}) bool {
	switch v := val.(type) {
	case int64:
		return v != 0
	case int:
		return v != 0
	case bool:
		return v
	}
	return false
}

// ConvertTimeFromStorage parses SQLite string storage
func (s *Dialect) ConvertTimeFromStorage(val interface{}) time.Time {
	var str string
	switch v := val.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	case time.Time:
		return v.UTC()
	default:
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Connect establishes a connection to SQLite with connection pooling
func (s *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open(s.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(constants.DefaultSQLiteMaxConnections)
	db.SetMaxIdleConns(constants.DefaultSQLiteMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)

	return db, nil
}

// EntityStatements returns the library entity tables touched by config migrations.
func (s *Dialect) EntityStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS indexer_rule (id INTEGER PRIMARY KEY AUTOINCREMENT, pub_id BLOB NULL, name TEXT NULL, "default" INTEGER NULL, rules_per_kind BLOB NULL, date_created TEXT NULL, date_modified TEXT NULL)`,
		`CREATE TABLE IF NOT EXISTS node (id INTEGER PRIMARY KEY AUTOINCREMENT, pub_id BLOB NULL, name TEXT NOT NULL DEFAULT '', platform INTEGER NOT NULL DEFAULT 0, date_created TEXT NULL, node_peer_id TEXT NULL)`,
		`CREATE TABLE IF NOT EXISTS file_path (id INTEGER PRIMARY KEY AUTOINCREMENT, pub_id BLOB NULL, materialized_path TEXT NULL, name TEXT NULL, extension TEXT NULL, size_in_bytes TEXT NULL, size_in_bytes_bytes BLOB NULL)`,
	}
}

// HistoryStatements returns the statements creating the migration run history table
func (s *Dialect) HistoryStatements(migrationRuns string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, document TEXT NOT NULL, version INTEGER NOT NULL, status TEXT NOT NULL, error TEXT NULL, duration_ms INTEGER NOT NULL DEFAULT 0, failed INTEGER NOT NULL DEFAULT 0, ran_at TEXT NOT NULL)", migrationRuns),
	}
}
