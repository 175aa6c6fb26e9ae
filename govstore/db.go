// Package govstore is the engine's durable record: active column
// classifications, the exclusion list, and classification issues, all in
// one embedded badger database so that a column's classification and its
// issue state commit in a single transaction.
package govstore

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// DBConfig configures the embedded database.
type DBConfig struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory runs without disk persistence, for tests.
	InMemory bool

	// SyncWrites forces fsync on every commit. On for production.
	SyncWrites bool
}

// DefaultDBConfig returns production defaults.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{Path: path, SyncWrites: true}
}

// InMemoryDBConfig returns a throwaway test configuration.
func InMemoryDBConfig() DBConfig {
	return DBConfig{InMemory: true}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenDB opens the badger database for the engine.
func OpenDB(cfg DBConfig, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("govstore: db path is required for persistent mode")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("govstore: open database: %w", err)
	}
	return db, nil
}
