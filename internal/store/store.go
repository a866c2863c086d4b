// Package store owns the SQLite database under <project>/.fleet/ and every
// query against it: the append-only event log, the projection tables it
// feeds in the same transaction, and the operational lock and cursor tables.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/logging"
	"fleettools/internal/types"
)

// Store wraps the single database connection for one project. SQLite with
// one connection serializes writers in-process; busy_timeout covers other
// processes sharing the file.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	project string
	clock   types.Clock
	factory *event.Factory
	opts    *config.Options
}

// Open initializes the database for the project described by opts, creating
// the .fleet directory and schema on first use.
func Open(opts *config.Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	project, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	dbPath := opts.DatabasePath()
	if !opts.InMemory {
		if err := os.MkdirAll(opts.FleetDir(), 0o755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create fleet directory: %v", err)
			return nil, &types.StorageUnavailableError{Cause: err}
		}
	}
	logging.Store("Opening fleet database: %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", dbPath, err)
		return nil, &types.StorageUnavailableError{Cause: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to set sqlite foreign_keys=ON: %v", err)
	}

	if err := CheckSchemaCompat(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		path:    dbPath,
		project: project,
		clock:   opts.GetClock(),
		factory: event.NewFactory(opts.GetClock()),
		opts:    opts,
	}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, &types.StorageUnavailableError{Cause: err}
	}

	logging.Store("Fleet store ready: project=%s", project)
	return s, nil
}

// Close flushes the WAL back into the main file and closes the connection.
func (s *Store) Close() error {
	logging.Store("Closing fleet store: %s", s.path)
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logging.StoreDebug("WAL checkpoint on close failed: %v", err)
	}
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Project returns the canonical project key events are scoped by.
func (s *Store) Project() string {
	return s.project
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string {
	return s.path
}

// Clock returns the time source configured for this store.
func (s *Store) Clock() types.Clock {
	return s.clock
}

// Options returns the configuration the store was opened with.
func (s *Store) Options() *config.Options {
	return s.opts
}

// Factory returns the event factory bound to the store's clock.
func (s *Store) Factory() *event.Factory {
	return s.factory
}

// Now reads the configured clock as a millisecond timestamp.
func (s *Store) Now() types.Timestamp {
	return types.At(s.clock())
}

// wrapStorage classifies low-level SQLite failures. Lock exhaustion past the
// busy timeout and I/O trouble surface as StorageUnavailable so callers can
// back off; everything else keeps its context.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_IOERR") || strings.Contains(msg, "disk I/O error") {
		return &types.StorageUnavailableError{Cause: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
