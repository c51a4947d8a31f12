// Package store is the relational store primitive used by document migrations:
// filtered paginated reads, update-by-predicate and batch execution that
// commits or fails as a unit. Statements are built with squirrel so steps
// declare their predicates and field sets explicitly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/retry"
	"github.com/iammatthi/spacedrive/internal/store/postgresql"
	"github.com/iammatthi/spacedrive/internal/store/sqlite"
	"github.com/jmoiron/sqlx"
)

// ErrOperationFailed wraps every failed store call. The cause is kept in the
// chain; the caller may retry once it is resolved.
var ErrOperationFailed = errors.New("store operation failed")

// Store is the surface migration steps use to reach library entities.
type Store interface {
	// Builder returns a statement builder using the backend's placeholders.
	Builder() sq.StatementBuilderType
	// Select runs q and scans all rows into dest (a pointer to a slice).
	Select(ctx context.Context, dest any, q sq.SelectBuilder) error
	// Count returns the number of rows in table matching where (nil = all rows).
	Count(ctx context.Context, table string, where sq.Sqlizer) (int, error)
	// Update applies one update-by-predicate statement and returns affected rows.
	Update(ctx context.Context, q sq.UpdateBuilder) (int64, error)
	// Batch executes all statements in a single transaction.
	Batch(ctx context.Context, ops ...sq.Sqlizer) error
}

// Dialect captures what differs between the supported backends.
type Dialect interface {
	DriverName() string
	Placeholder() sq.PlaceholderFormat
	Connect(dsn string) (*sql.DB, error)
	EntityStatements() []string
	HistoryStatements(migrationRuns string) []string
	ConvertBoolToStorage(b bool) interface{}
	ConvertTimeToStorage(t time.Time) interface{}
	ConvertBoolFromStorage(val interface{}) bool
	ConvertTimeFromStorage(val interface{}) time.Time
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB implements Store on top of sqlx.
type DB struct {
	db      *sqlx.DB
	dialect Dialect
	retry   *retry.Config
	runs    string
	logger  *common.Logger
}

var _ Store = (*DB)(nil)

// Open connects to the configured backend and ensures the run history table exists.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver, err := cfg.Driver()
	if err != nil {
		return nil, err
	}

	var (
		dialect Dialect
		dsn     string
	)
	switch driver {
	case DriverPostgres:
		dialect = postgresql.NewDialect()
		dsn = cfg.Postgres.DataSourceName()
		if dsn == "" {
			return nil, errors.New("postgres store requires store.postgres.dsn or store.postgres.host")
		}
	default:
		dialect = sqlite.NewDialect()
		dsn = cfg.SQLite.DataSourceName()
	}

	runs := cfg.MigrationRunsTable()
	if !identRegex.MatchString(runs) {
		return nil, fmt.Errorf("invalid migration runs table name: %q", runs)
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}

	logger := common.GetLogger().WithStore(dialect.DriverName())

	var raw *sql.DB
	if err := retry.WithRetry(ctx, retryCfg, func() error {
		var cerr error
		raw, cerr = dialect.Connect(dsn)
		return cerr
	}); err != nil {
		logger.Error("failed to connect to store", "error", err, "dsn", common.MaskSensitiveData(dsn))
		return nil, fmt.Errorf("%w: connect: %w", ErrOperationFailed, err)
	}

	s := New(sqlx.NewDb(raw, dialect.DriverName()), dialect)
	s.retry = retryCfg
	s.runs = runs
	if err := s.ensure(ctx, dialect.HistoryStatements(runs)); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("store connection established", "dsn", common.MaskSensitiveData(dsn))
	return s, nil
}

// New wraps an existing connection. Tests use it with go-sqlmock.
func New(db *sqlx.DB, dialect Dialect) *DB {
	return &DB{
		db:      db,
		dialect: dialect,
		retry:   retry.NoRetry(),
		runs:    "migration_runs",
		logger:  common.GetLogger().WithStore(dialect.DriverName()),
	}
}

// Close closes the database connection
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the backend dialect.
func (s *DB) Dialect() Dialect {
	return s.dialect
}

// EnsureEntities creates the library entity tables when they are absent.
// It never alters existing tables.
func (s *DB) EnsureEntities(ctx context.Context) error {
	return s.ensure(ctx, s.dialect.EntityStatements())
}

func (s *DB) ensure(ctx context.Context, stmts []string) error {
	for i, q := range stmts {
		s.logger.Debug("executing schema statement", "index", i+1, "sql", q)
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			s.logger.Error("failed to ensure schema", "error", err, "index", i+1)
			return fmt.Errorf("%w: ensure schema statement %d: %w", ErrOperationFailed, i+1, err)
		}
	}
	return nil
}

// Builder returns a statement builder using the backend's placeholders.
func (s *DB) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.dialect.Placeholder())
}

// Select runs q and scans all rows into dest.
func (s *DB) Select(ctx context.Context, dest any, q sq.SelectBuilder) error {
	query, args, err := q.PlaceholderFormat(s.dialect.Placeholder()).ToSql()
	if err != nil {
		return fmt.Errorf("%w: build select: %w", ErrOperationFailed, err)
	}
	err = retry.WithRetry(ctx, s.retry, func() error {
		return s.db.SelectContext(ctx, dest, query, args...)
	})
	if err != nil {
		s.logger.Error("select failed", "error", err, "sql", query)
		return fmt.Errorf("%w: select: %w", ErrOperationFailed, err)
	}
	return nil
}

// Count returns the number of rows in table matching where.
func (s *DB) Count(ctx context.Context, table string, where sq.Sqlizer) (int, error) {
	q := s.Builder().Select("COUNT(*)").From(table)
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build count: %w", ErrOperationFailed, err)
	}
	var n int
	err = retry.WithRetry(ctx, s.retry, func() error {
		return s.db.GetContext(ctx, &n, query, args...)
	})
	if err != nil {
		s.logger.Error("count failed", "error", err, "table", table)
		return 0, fmt.Errorf("%w: count %s: %w", ErrOperationFailed, table, err)
	}
	return n, nil
}

// Update applies one update-by-predicate statement.
func (s *DB) Update(ctx context.Context, q sq.UpdateBuilder) (int64, error) {
	query, args, err := q.PlaceholderFormat(s.dialect.Placeholder()).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build update: %w", ErrOperationFailed, err)
	}
	var affected int64
	err = retry.WithRetry(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.logger.Error("update failed", "error", err, "sql", query)
		return 0, fmt.Errorf("%w: update: %w", ErrOperationFailed, err)
	}
	return affected, nil
}

// Batch executes all statements in one transaction. Any failure rolls the
// whole batch back; a retried batch is replayed from the start.
func (s *DB) Batch(ctx context.Context, ops ...sq.Sqlizer) error {
	if len(ops) == 0 {
		return nil
	}
	type stmt struct {
		query string
		args  []interface{}
	}
	stmts := make([]stmt, 0, len(ops))
	for i, op := range ops {
		query, args, err := s.withPlaceholders(op).ToSql()
		if err != nil {
			return fmt.Errorf("%w: build batch statement %d: %w", ErrOperationFailed, i, err)
		}
		stmts = append(stmts, stmt{query: query, args: args})
	}

	err := retry.WithRetry(ctx, s.retry, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		s.logger.Error("batch failed", "error", err, "statements", len(stmts))
		return fmt.Errorf("%w: batch of %d statements: %w", ErrOperationFailed, len(stmts), err)
	}
	s.logger.Debug("batch committed", "statements", len(stmts))
	return nil
}

func (s *DB) withPlaceholders(op sq.Sqlizer) sq.Sqlizer {
	switch b := op.(type) {
	case sq.UpdateBuilder:
		return b.PlaceholderFormat(s.dialect.Placeholder())
	case sq.InsertBuilder:
		return b.PlaceholderFormat(s.dialect.Placeholder())
	case sq.DeleteBuilder:
		return b.PlaceholderFormat(s.dialect.Placeholder())
	default:
		return op
	}
}
