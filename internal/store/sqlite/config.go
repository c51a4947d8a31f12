package sqlite

import (
	"fmt"
	"strings"

	"github.com/iammatthi/spacedrive/internal/constants"
)

// Config selects the SQLite database backing the library.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// DataSourceName returns the explicit DSN when set, otherwise a modernc DSN for Path
// with a busy timeout and foreign keys enabled. Empty config yields an in-memory database.
func (c *Config) DataSourceName() string {
	if dsn := strings.TrimSpace(c.DSN); dsn != "" {
		return dsn
	}
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, constants.DefaultSQLiteBusyTimeoutMS)
}
