package store

import (
	"fmt"

	"github.com/iammatthi/spacedrive/internal/constants"
	"github.com/iammatthi/spacedrive/internal/retry"
	"github.com/iammatthi/spacedrive/internal/store/postgresql"
	"github.com/iammatthi/spacedrive/internal/store/sqlite"
	"github.com/iammatthi/spacedrive/internal/util"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the relational store holding library entities.
type Config struct {
	Type     string            `mapstructure:"type" yaml:"type"`
	SQLite   sqlite.Config     `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
	// Optional table name customization for the run history
	TablePrefix        string        `mapstructure:"table_prefix" yaml:"table_prefix"`
	TableMigrationRuns string        `mapstructure:"table_migration_runs" yaml:"table_migration_runs"`
	Retry              *retry.Config `mapstructure:"retry" yaml:"retry"`
}

// Driver normalizes Type, defaulting to sqlite.
func (c *Config) Driver() (string, error) {
	switch util.TrimAndLower(c.Type) {
	case "", "sqlite", "sqlite3":
		return DriverSqlite, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported store type: %q (valid: sqlite, postgres)", c.Type)
	}
}

// MigrationRunsTable resolves the history table name from explicit name or prefix.
func (c *Config) MigrationRunsTable() string {
	if name, ok := util.TrimEmptyCheck(c.TableMigrationRuns); ok {
		return name
	}
	if prefix, ok := util.TrimEmptyCheck(c.TablePrefix); ok {
		return prefix + constants.MigrationRunsSuffix
	}
	return constants.DefaultMigrationRunsTable
}
