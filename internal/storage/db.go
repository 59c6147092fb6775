package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/sirupsen/logrus"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options selects the database file and the schema version to open it at.
type Options struct {
	Path    string
	Version int
}

// Store is the embedded record store. It is opened once per process and
// shared by every component that needs local persistence.
type Store struct {
	opts Options
	now  func() time.Time

	// mu guards the connection lifecycle: operations hold it for reading,
	// Reset and Close hold it for writing.
	mu      sync.RWMutex
	db      *sql.DB
	version int
	present map[CollectionName]bool
	closed  bool
}

// Open opens or creates the database at opts.Path. When the stored schema
// version is lower than opts.Version the upgrade pass creates every missing
// collection; existing collections and their records are never touched.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = MemoryPath
	}
	if opts.Version <= 0 {
		opts.Version = CurrentVersion
	}

	s := &Store{
		opts: opts,
		now:  time.Now,
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"db_path": opts.Path,
		"version": s.version,
	}).Info("Opened embedded store")
	return s, nil
}

// connect opens the sqlite handle and runs the upgrade pass. Caller holds mu
// for writing, or is Open.
func (s *Store) connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.opts.Path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.opts.Path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return fmt.Errorf("%w: ping %s: %w", ErrStorageUnavailable, s.opts.Path, err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, s.opts.Path); err != nil {
		closeQuietly(db)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	version, err := upgrade(ctx, db, s.opts.Version)
	if err != nil {
		closeQuietly(db)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	present, err := loadCollections(ctx, db)
	if err != nil {
		closeQuietly(db)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.db = db
	s.version = version
	s.present = present
	s.closed = false
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryPath {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// upgrade brings the database to target and returns the resulting version.
// Opening at an equal or lower version leaves the schema alone.
func upgrade(ctx context.Context, db *sql.DB, target int) (int, error) {
	if _, err := db.ExecContext(ctx, metaSchema); err != nil {
		return 0, fmt.Errorf("failed to create bookkeeping tables: %w", err)
	}

	current := 0
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if target <= current {
		return current, nil
	}

	logrus.WithFields(logrus.Fields{
		"from": current,
		"to":   target,
	}).Info("Upgrading embedded store schema")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upgrade: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback upgrade")
			}
		}
	}()

	for _, schema := range Schemas {
		if schema.Since > target {
			continue
		}
		if _, err := tx.ExecContext(ctx, schema.ddl()); err != nil {
			return 0, fmt.Errorf("failed to create collection %s: %w", schema.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		target,
		time.Now().Unix(),
	); err != nil {
		return 0, fmt.Errorf("failed to record schema version %d: %w", target, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upgrade: %w", err)
	}
	committed = true

	return target, nil
}

func loadCollections(ctx context.Context, db *sql.DB) (map[CollectionName]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	present := make(map[CollectionName]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		if _, ok := SchemaFor(CollectionName(name)); ok {
			present[CollectionName(name)] = true
		}
	}
	return present, rows.Err()
}

// Version returns the schema version the database is at.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.opts.Path
}

// Collections returns the collections that exist at the opened version.
func (s *Store) Collections() []CollectionName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]CollectionName, 0, len(s.present))
	for _, schema := range Schemas {
		if s.present[schema.Name] {
			names = append(names, schema.Name)
		}
	}
	return names
}

// Reset destroys the whole database, including the fallback mirror, and
// re-opens it from scratch. Operations already running finish against the
// old handle before the reset proceeds.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database before reset")
		}
		s.db = nil
	}
	s.closed = true

	if s.opts.Path != MemoryPath {
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			if err := os.Remove(s.opts.Path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: remove %s: %w", ErrStorageUnavailable, s.opts.Path+suffix, err)
			}
		}
	}

	if err := s.connect(ctx); err != nil {
		return err
	}

	logrus.WithField("db_path", s.opts.Path).Warn("Embedded store reset")
	return nil
}

// Close closes the database connection. Later operations fail with
// ErrStorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db != nil {
		db := s.db
		s.db = nil
		if err := db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

// acquire takes the lifecycle read lock and checks that name is usable with
// the wanted kind. The returned func releases the lock.
func (s *Store) acquire(name CollectionName, kind Kind) (Schema, func(), error) {
	schema, ok := SchemaFor(name)
	if !ok {
		return Schema{}, nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	if schema.Kind != kind {
		return Schema{}, nil, fmt.Errorf("%w: %s", ErrKindMismatch, name)
	}

	s.mu.RLock()
	if s.closed || s.db == nil {
		s.mu.RUnlock()
		return Schema{}, nil, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	if !s.present[name] {
		s.mu.RUnlock()
		return Schema{}, nil, fmt.Errorf("%w: %s does not exist at version %d", ErrUnknownCollection, name, s.version)
	}
	return schema, s.mu.RUnlock, nil
}

// withTx runs fn in a transaction, rolling back unless fn succeeds and the
// commit goes through.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database connection after init error")
	}
}
