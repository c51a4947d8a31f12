package postgresql

import (
	"fmt"
	"net/url"

	"github.com/iammatthi/spacedrive/internal/constants"
	"github.com/iammatthi/spacedrive/internal/util"
)

type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DataSourceName prefers an explicit DSN; otherwise it builds one from the
// components when a host is provided. Returns "" when neither is configured.
func (p *Config) DataSourceName() string {
	dsn, hasDSN := util.TrimEmptyCheck(p.DSN)
	if hasDSN {
		return dsn
	}
	host, hasHost := util.TrimEmptyCheck(p.Host)
	if !hasHost {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	ssl := util.TrimWithDefault(p.SSLMode, constants.DefaultPostgresSSLMode)

	fields := util.TrimSpaceFields(p.User, p.Password, p.DBName)
	user, password, dbname := fields[0], fields[1], fields[2]
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + dbname,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}
