package sqlite

import (
	"time"

	"github.com/idc-core/idc/pkg/config"
)

// Config captures SQLite store configuration derived from application settings.
type Config struct {
	// Path is the database location or ":memory:" for in-memory deployments.
	Path string

	// MaxOpenConns controls the pool size exposed by database/sql. Defaults to
	// one connection so transactions never hit SQLITE_BUSY.
	MaxOpenConns int

	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// BusyTimeout configures sqlite busy timeout via PRAGMA busy_timeout.
	BusyTimeout time.Duration
}

// FromAppConfig maps the database section of the application config.
func FromAppConfig(cfg *config.DatabaseConfig) *Config {
	path := cfg.Path
	if cfg.ConnString != "" {
		path = cfg.ConnString
	}
	return &Config{
		Path:            path,
		MaxOpenConns:    1,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		BusyTimeout:     cfg.BusyTimeout,
	}
}
