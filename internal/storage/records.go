package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put inserts or overwrites the record with rec.ID. A missing timestamp is
// assigned at write time. The last Put for an id wins regardless of the
// timestamps carried by the records.
func (s *Store) Put(ctx context.Context, name CollectionName, rec Record) (Record, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Record{}, fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if rec.Timestamp == "" {
		rec.Timestamp = FormatTimestamp(s.now())
	}
	rec.Timestamp = normalizeTimestamp(rec.Timestamp)

	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return Record{}, err
	}
	defer release()

	if err := putRecord(ctx, s.db, name, rec); err != nil {
		return Record{}, err
	}

	logrus.WithFields(logrus.Fields{
		"collection": name,
		"id":         rec.ID,
	}).Debug("Stored record")
	return rec, nil
}

func putRecord(ctx context.Context, q querier, name CollectionName, rec Record) error {
	payload, err := json.Marshal(fieldsOrEmpty(rec.Fields))
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrInvalidRecord, err)
	}

	_, err = q.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, timestamp, category, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   timestamp = excluded.timestamp,
		   category = excluded.category,
		   payload = excluded.payload`, quoteIdent(string(name))),
		rec.ID,
		normalizeTimestamp(rec.Timestamp),
		rec.Category(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s into %s: %w", rec.ID, name, err)
	}
	return nil
}

// Get returns the record with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name CollectionName, id string) (Record, error) {
	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return Record{}, err
	}
	defer release()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, timestamp, payload FROM %s WHERE id = ?", quoteIdent(string(name))), id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, name, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to query record: %w", err)
	}
	return rec, nil
}

// GetAll returns every record in insertion order. Overwriting a record keeps
// its original position.
func (s *Store) GetAll(ctx context.Context, name CollectionName) ([]Record, error) {
	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return nil, err
	}
	defer release()

	return queryRecords(ctx, s.db, fmt.Sprintf(
		"SELECT id, timestamp, payload FROM %s ORDER BY rowid ASC", quoteIdent(string(name))))
}

// ListByTimestamp scans the timestamp index.
func (s *Store) ListByTimestamp(ctx context.Context, name CollectionName, newestFirst bool) ([]Record, error) {
	schema, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return nil, err
	}
	defer release()

	if !hasIndex(schema, IndexTimestamp) {
		return nil, fmt.Errorf("%w: %s has no timestamp index", ErrUnknownCollection, name)
	}

	direction := "ASC"
	if newestFirst {
		direction = "DESC"
	}
	return queryRecords(ctx, s.db, fmt.Sprintf(
		"SELECT id, timestamp, payload FROM %s ORDER BY timestamp %s, rowid %s",
		quoteIdent(string(name)), direction, direction))
}

// ListByCategory scans the category index, oldest first.
func (s *Store) ListByCategory(ctx context.Context, name CollectionName, category string) ([]Record, error) {
	schema, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return nil, err
	}
	defer release()

	if !hasIndex(schema, IndexCategory) {
		return nil, fmt.Errorf("%w: %s has no category index", ErrUnknownCollection, name)
	}

	return queryRecords(ctx, s.db, fmt.Sprintf(
		"SELECT id, timestamp, payload FROM %s WHERE category = ? ORDER BY timestamp ASC, rowid ASC",
		quoteIdent(string(name))), category)
}

// Delete removes the record with id from the collection and its fallback
// mirror. Deleting a missing id succeeds.
func (s *Store) Delete(ctx context.Context, name CollectionName, id string) error {
	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return err
	}
	defer release()

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE id = ?", quoteIdent(string(name))), id); err != nil {
			return fmt.Errorf("failed to delete record %s from %s: %w", id, name, err)
		}
		return dropFromFallback(ctx, tx, name, id)
	})
}

// Clear removes every entry of a collection of either kind.
func (s *Store) Clear(ctx context.Context, name CollectionName) error {
	schema, ok := SchemaFor(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	_, release, err := s.acquire(name, schema.Kind)
	if err != nil {
		return err
	}
	defer release()

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(string(name)))); err != nil {
			return fmt.Errorf("failed to clear %s: %w", name, err)
		}
		if schema.Kind != KindRecord {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM fallback_mirror WHERE collection = ?", string(name)); err != nil {
			return fmt.Errorf("failed to clear fallback mirror of %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logrus.WithField("collection", name).Info("Cleared collection")
	return nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var payload string
	if err := row.Scan(&rec.ID, &rec.Timestamp, &payload); err != nil {
		return Record{}, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	if err := dec.Decode(&rec.Fields); err != nil {
		return Record{}, fmt.Errorf("decode payload of %s: %w", rec.ID, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return rec, nil
}

func fieldsOrEmpty(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

func hasIndex(schema Schema, idx Index) bool {
	for _, i := range schema.Indexes {
		if i == idx {
			return true
		}
	}
	return false
}
