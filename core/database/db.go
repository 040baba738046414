// Package database opens the node-local sqlite databases, such as the
// profile registry, and keeps their schemas current.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/adalundhe/rad/core/storage"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// Options configures how a database is opened.
type Options struct {
	// Schema brings the database to the version this binary expects.
	Schema []Migration

	// BusyTimeout bounds how long a write waits for another process holding
	// the database lock. Zero means five seconds.
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// Manager hands out one handle per database file for the life of a command.
type Manager struct {
	dirs *storage.Dirs

	mu   sync.Mutex
	open map[string]*DB
}

func NewManager(dirs *storage.Dirs) *Manager {
	return &Manager{
		dirs: dirs,
		open: make(map[string]*DB),
	}
}

// Open returns the database called name, opening and migrating it on first
// use. Relative names live in the data directory with a .db suffix.
func (m *Manager) Open(ctx context.Context, name string, opts Options) (*DB, error) {
	path := m.resolvePath(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.open[path]; ok {
		return db, nil
	}

	if err := storage.EnsureDir(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
		path, timeout.Milliseconds())

	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer per process; sqlite serializes across processes
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{sql: handle, path: path}
	if err := db.migrate(ctx, opts.Schema, logger); err != nil {
		handle.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	m.open[path] = db
	return db, nil
}

// Close closes every database opened through m.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, db := range m.open {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.open, path)
	}
	return firstErr
}

func (m *Manager) resolvePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if filepath.Ext(name) == "" {
		name += ".db"
	}
	return m.dirs.DataDir(name)
}

// =============================================================================
// DB
// =============================================================================

// DB is an open, migrated database.
type DB struct {
	sql     *sql.DB
	path    string
	version int
}

func (db *DB) Path() string {
	return db.path
}

// Version is the schema version after migration.
func (db *DB) Version() int {
	return db.version
}

func (db *DB) Close() error {
	return db.sql.Close()
}

func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.sql.ExecContext(ctx, query, args...)
}

func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.sql.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.sql.QueryRowContext(ctx, query, args...)
}

// Tx runs fn in a transaction, committing when it returns nil.
func (db *DB) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
