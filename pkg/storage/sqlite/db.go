// Package sqlite persists event streams, snapshots, and the user read model
// in a single SQLite database. The driver is pure Go, so the service builds
// without CGo.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver
)

type dbConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultDBConfig() dbConfig {
	return dbConfig{
		dsn:          "userd.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures Open.
type Option func(*dbConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *dbConfig) { c.dsn = dsn }
}

// WithMemoryDatabase switches to an in-memory database. Intended for tests.
func WithMemoryDatabase() Option {
	return func(c *dbConfig) { c.dsn = ":memory:" }
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *dbConfig) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(c *dbConfig) { c.maxIdleConns = n }
}

// WithWALMode enables write-ahead logging. Recommended for file databases,
// unavailable for :memory:.
func WithWALMode(enabled bool) Option {
	return func(c *dbConfig) { c.walMode = enabled }
}

// WithAutoMigrate controls whether pending migrations run on open.
func WithAutoMigrate(enabled bool) Option {
	return func(c *dbConfig) { c.autoMigrate = enabled }
}

// Open opens the database, configures the pool, and runs pending migrations
// unless disabled.
func Open(opts ...Option) (*sql.DB, error) {
	config := defaultDBConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection; more than one connection
	// would mean more than one database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if config.walMode && config.dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return db, nil
}

// timeLayout is the persisted timestamp format: UTC, zero-padded to
// nanoseconds so lexicographic order equals chronological order and SQL
// range predicates work on plain string comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
