package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DedupResult reports what Deduplicate did.
type DedupResult struct {
	Before  int  `json:"before"`
	After   int  `json:"after"`
	Skipped bool `json:"skipped"`
}

// MirrorToFallback appends rec to the fallback mirror of a collection. The
// mirror is an append-only JSON array, so it may hold several versions of
// the same id until Deduplicate collapses them.
func (s *Store) MirrorToFallback(ctx context.Context, name CollectionName, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if rec.Timestamp == "" {
		rec.Timestamp = FormatTimestamp(s.now())
	}
	rec.Timestamp = normalizeTimestamp(rec.Timestamp)

	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return err
	}
	defer release()

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		body, found, err := readFallback(ctx, tx, name)
		if err != nil {
			return err
		}

		var mirror []json.RawMessage
		if found {
			if err := json.Unmarshal([]byte(body), &mirror); err != nil {
				logrus.WithError(err).WithField("collection", name).
					Warn("Fallback mirror is not an array; starting a new one")
				mirror = nil
			}
		}

		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode record: %w", ErrInvalidRecord, err)
		}
		mirror = append(mirror, encoded)
		return writeFallback(ctx, tx, name, mirror)
	})
}

// Fallback returns the mirrored records of a collection, duplicates included.
func (s *Store) Fallback(ctx context.Context, name CollectionName) ([]Record, error) {
	_, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return nil, err
	}
	defer release()

	body, found, err := readFallback(ctx, s.db, name)
	if err != nil || !found {
		return []Record{}, err
	}

	records := []Record{}
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return nil, fmt.Errorf("fallback mirror for %s is not an array: %w", name, err)
	}
	return records, nil
}

// Deduplicate collapses records sharing an id across the collection and its
// fallback mirror, keeping the one with the latest timestamp. The collection
// and the mirror are rewritten in one transaction, so a failure leaves both
// as they were. A mirror that does not parse as an array means there is
// nothing to deduplicate.
func (s *Store) Deduplicate(ctx context.Context, name CollectionName) (DedupResult, error) {
	schema, release, err := s.acquire(name, KindRecord)
	if err != nil {
		return DedupResult{}, err
	}
	defer release()

	if !schema.Dedupable {
		return DedupResult{}, fmt.Errorf("%w: %s", ErrNotDedupable, name)
	}

	var result DedupResult
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		stored, err := queryRecords(ctx, tx, fmt.Sprintf(
			"SELECT id, timestamp, payload FROM %s ORDER BY rowid ASC", quoteIdent(string(name))))
		if err != nil {
			return err
		}

		var mirrored []Record
		body, found, err := readFallback(ctx, tx, name)
		if err != nil {
			return err
		}
		if found {
			if err := json.Unmarshal([]byte(body), &mirrored); err != nil {
				logrus.WithError(err).WithField("collection", name).
					Warn("Fallback mirror failed to parse; skipping deduplication")
				result = DedupResult{Before: len(stored), After: len(stored), Skipped: true}
				return errSkipDedup
			}
		}

		unique := collapse(append(stored, mirrored...))
		result = DedupResult{Before: len(stored) + len(mirrored), After: len(unique)}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(string(name)))); err != nil {
			return fmt.Errorf("failed to clear %s for deduplication: %w", name, err)
		}
		for _, rec := range unique {
			if err := putRecord(ctx, tx, name, rec); err != nil {
				return err
			}
		}

		encoded := make([]json.RawMessage, 0, len(unique))
		for _, rec := range unique {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("%w: encode record: %w", ErrInvalidRecord, err)
			}
			encoded = append(encoded, raw)
		}
		return writeFallback(ctx, tx, name, encoded)
	})
	if errors.Is(err, errSkipDedup) {
		return result, nil
	}
	if err != nil {
		return DedupResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"collection": name,
		"before":     result.Before,
		"after":      result.After,
	}).Info("Deduplicated collection")
	return result, nil
}

var errSkipDedup = errors.New("skip deduplication")

// collapse keeps the latest record per id, preserving first-seen order.
func collapse(records []Record) []Record {
	index := make(map[string]int, len(records))
	unique := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if i, ok := index[rec.ID]; ok {
			if later(rec, unique[i]) {
				unique[i] = rec
			}
			continue
		}
		index[rec.ID] = len(unique)
		unique = append(unique, rec)
	}
	return unique
}

// dropFromFallback removes every mirrored version of id. A mirror that does
// not parse is left alone; Deduplicate skips it anyway.
func dropFromFallback(ctx context.Context, tx *sql.Tx, name CollectionName, id string) error {
	body, found, err := readFallback(ctx, tx, name)
	if err != nil || !found {
		return err
	}

	var mirror []json.RawMessage
	if err := json.Unmarshal([]byte(body), &mirror); err != nil {
		logrus.WithError(err).WithField("collection", name).
			Warn("Fallback mirror is not an array; leaving it untouched")
		return nil
	}

	kept := mirror[:0]
	for _, raw := range mirror {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err == nil && rec.ID == id {
			continue
		}
		kept = append(kept, raw)
	}
	if len(kept) == len(mirror) {
		return nil
	}
	return writeFallback(ctx, tx, name, kept)
}

func readFallback(ctx context.Context, q querier, name CollectionName) (string, bool, error) {
	var body string
	err := q.QueryRowContext(ctx, "SELECT body FROM fallback_mirror WHERE collection = ?", string(name)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read fallback mirror: %w", err)
	}
	return body, true, nil
}

func writeFallback(ctx context.Context, q querier, name CollectionName, items []json.RawMessage) error {
	if items == nil {
		items = []json.RawMessage{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode fallback mirror: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO fallback_mirror (collection, body) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET body = excluded.body`,
		string(name), string(body)); err != nil {
		return fmt.Errorf("failed to write fallback mirror: %w", err)
	}
	return nil
}
