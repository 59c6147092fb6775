package rescache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/sirupsen/logrus"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	generation TEXT NOT NULL,
	key TEXT NOT NULL,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (generation, key)
);

CREATE TABLE IF NOT EXISTS cache_state (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const activeGenerationKey = "active_generation"

// SQLiteBackend keeps cache entries in their own SQLite file, separate from
// the record store.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates the cache database at path.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	logrus.WithField("db_path", path).Info("Opened resource cache")
	return &SQLiteBackend{db: db}, nil
}

// PutAll implements Backend in a single transaction.
func (b *SQLiteBackend) PutAll(ctx context.Context, generation string, entries []Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback cache write")
			}
		}
	}()

	for _, e := range entries {
		header, err := json.Marshal(e.Header)
		if err != nil {
			return fmt.Errorf("failed to encode headers for %s: %w", e.Key, err)
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (generation, key, method, url, status, header, body, stored_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(generation, key) DO UPDATE SET
			   method = excluded.method,
			   url = excluded.url,
			   status = excluded.status,
			   header = excluded.header,
			   body = excluded.body,
			   stored_at = excluded.stored_at`,
			generation,
			e.Key,
			e.Method,
			e.URL,
			e.Status,
			string(header),
			body,
			e.StoredAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache write: %w", err)
	}
	committed = true
	return nil
}

// Match implements Backend.
func (b *SQLiteBackend) Match(ctx context.Context, generation, key string) (Entry, error) {
	var e Entry
	var header string
	var storedAt int64
	err := b.db.QueryRowContext(ctx,
		`SELECT key, method, url, status, header, body, stored_at
		 FROM cache_entries WHERE generation = ? AND key = ?`,
		generation, key,
	).Scan(&e.Key, &e.Method, &e.URL, &e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrCacheMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to query cache: %w", err)
	}

	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return Entry{}, fmt.Errorf("failed to decode headers for %s: %w", key, err)
	}
	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return e, nil
}

// Generations implements Backend.
func (b *SQLiteBackend) Generations(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT DISTINCT generation FROM cache_entries ORDER BY generation")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var generations []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}

// DeleteGeneration implements Backend.
func (b *SQLiteBackend) DeleteGeneration(ctx context.Context, generation string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE generation = ?", generation); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", generation, err)
	}
	return nil
}

// SetActive implements Backend.
func (b *SQLiteBackend) SetActive(ctx context.Context, generation string) error {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_state (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		activeGenerationKey, generation,
	); err != nil {
		return fmt.Errorf("failed to record active generation: %w", err)
	}
	return nil
}

// Active implements Backend.
func (b *SQLiteBackend) Active(ctx context.Context) (string, error) {
	var generation string
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM cache_state WHERE name = ?", activeGenerationKey,
	).Scan(&generation)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active generation: %w", err)
	}
	return generation, nil
}

// Close closes the cache database.
func (b *SQLiteBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	return nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close cache database after init error")
	}
}
