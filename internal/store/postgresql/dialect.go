package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/iammatthi/spacedrive/internal/constants"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect implements SQL dialect for PostgreSQL
type Dialect struct{}

// NewDialect creates a new PostgreSQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// DriverName returns the pgx stdlib driver name
func (p *Dialect) DriverName() string {
	return "pgx"
}

// Placeholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (p *Dialect) Placeholder() sq.PlaceholderFormat {
	return sq.Dollar
}

// ConvertBoolToStorage converts bool to PostgreSQL storage format (native bool)
func (p *Dialect) ConvertBoolToStorage(b bool) interface{} {
	return b
}

// ConvertTimeToStorage converts time to PostgreSQL storage format (native time.Time)
func (p *Dialect) ConvertTimeToStorage(t time.Time) interface{} {
	return t.UTC()
}

// ConvertBoolFromStorage converts PostgreSQL bool storage to bool
func (p *Dialect) ConvertBoolFromStorage(val interface{}) bool {
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// ConvertTimeFromStorage converts PostgreSQL time storage
func (p *Dialect) ConvertTimeFromStorage(val interface{}) time.Time {
	if t, ok := val.(*time.Time); ok && t != nil {
		return t.UTC()
	}
	if t, ok := val.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}

// Connect establishes a connection to PostgreSQL with connection pooling
func (p *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open(p.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(constants.DefaultPostgresMaxConnections)
	db.SetMaxIdleConns(constants.DefaultPostgresMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	return db, nil
}

// EntityStatements returns the library entity tables touched by config migrations.
func (p *Dialect) EntityStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS indexer_rule (id SERIAL PRIMARY KEY, pub_id BYTEA NULL, name TEXT NULL, "default" BOOLEAN NULL, rules_per_kind BYTEA NULL, date_created TIMESTAMPTZ NULL, date_modified TIMESTAMPTZ NULL)`,
		`CREATE TABLE IF NOT EXISTS node (id SERIAL PRIMARY KEY, pub_id BYTEA NULL, name TEXT NOT NULL DEFAULT '', platform INTEGER NOT NULL DEFAULT 0, date_created TIMESTAMPTZ NULL, node_peer_id TEXT NULL)`,
		`CREATE TABLE IF NOT EXISTS file_path (id SERIAL PRIMARY KEY, pub_id BYTEA NULL, materialized_path TEXT NULL, name TEXT NULL, extension TEXT NULL, size_in_bytes TEXT NULL, size_in_bytes_bytes BYTEA NULL)`,
	}
}

// HistoryStatements returns the statements creating the migration run history table
func (p *Dialect) HistoryStatements(migrationRuns string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY, document TEXT NOT NULL, version INTEGER NOT NULL, status TEXT NOT NULL, error TEXT NULL, duration_ms BIGINT NOT NULL DEFAULT 0, failed BOOLEAN NOT NULL DEFAULT FALSE, ran_at TIMESTAMPTZ NOT NULL)", migrationRuns),
	}
}
