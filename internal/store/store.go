// Package store provides storage backends for FocusCoin.
//
// A backend holds two things: the key/value state the timer engine persists
// after every mutation, and the outbox of ledger calls awaiting delivery.
// InMemoryStore, SQLiteStore and PostgresStore implement both.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNotFound is returned by Remove-style lookups that require an existing key.
var ErrNotFound = errors.New("not found")

// StateStore is the durable key/value store surviving process restarts.
type StateStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Store is a full backend: state, outbox and lifecycle.
type Store interface {
	StateStore
	OutboxRepo
	Close() error
}

// Opts holds backend configuration.
type Opts struct {
	DSN    string
	Driver string // "sqlite" or "postgres"; empty means detect from DSN
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite"
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") ||
		strings.Contains(trimmed, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Open builds the backend selected by opts. With no DSN it returns an
// InMemoryStore, which does not survive a restart.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("store.Open: no DSN configured, using in-memory store; state will not survive a restart")
		return NewInMemoryStore(), nil
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDSNType(cfg.DSN)
	}
	switch driver {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	case "sqlite":
		return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
