package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// QueueRow is one row of a queue collection.
type QueueRow struct {
	ID             int64
	Token          string
	Data           json.RawMessage
	ComponentType  string
	IdempotencyKey string
	EnqueuedAt     string
}

// AppendQueue inserts row and returns it with the assigned sequential id.
func (s *Store) AppendQueue(ctx context.Context, name CollectionName, row QueueRow) (QueueRow, error) {
	_, release, err := s.acquire(name, KindQueue)
	if err != nil {
		return QueueRow{}, err
	}
	defer release()

	if len(row.Data) == 0 {
		row.Data = json.RawMessage("null")
	}
	if row.EnqueuedAt == "" {
		row.EnqueuedAt = FormatTimestamp(s.now())
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (token, data, component_type, idempotency_key, enqueued_at)
		 VALUES (?, ?, ?, ?, ?)`, quoteIdent(string(name))),
		row.Token,
		string(row.Data),
		row.ComponentType,
		row.IdempotencyKey,
		row.EnqueuedAt,
	)
	if err != nil {
		return QueueRow{}, fmt.Errorf("failed to append to %s: %w", name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return QueueRow{}, fmt.Errorf("failed to read queue id: %w", err)
	}
	row.ID = id
	return row, nil
}

// MaxQueueID returns the highest id currently in the queue, or 0.
func (s *Store) MaxQueueID(ctx context.Context, name CollectionName) (int64, error) {
	_, release, err := s.acquire(name, KindQueue)
	if err != nil {
		return 0, err
	}
	defer release()

	var id int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COALESCE(MAX(id), 0) FROM %s", quoteIdent(string(name)))).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max id of %s: %w", name, err)
	}
	return id, nil
}

// ScanQueue returns up to limit rows with afterID < id <= maxID in id order.
func (s *Store) ScanQueue(ctx context.Context, name CollectionName, afterID, maxID int64, limit int) ([]QueueRow, error) {
	_, release, err := s.acquire(name, KindQueue)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, token, data, component_type, idempotency_key, enqueued_at
		 FROM %s WHERE id > ? AND id <= ? ORDER BY id ASC LIMIT ?`, quoteIdent(string(name))),
		afterID, maxID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", name, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var out []QueueRow
	for rows.Next() {
		var row QueueRow
		var data string
		if err := rows.Scan(&row.ID, &row.Token, &data, &row.ComponentType, &row.IdempotencyKey, &row.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		row.Data = json.RawMessage(data)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", name, err)
	}
	return out, nil
}

// DeleteQueue removes the row with id. Removing a missing id succeeds.
func (s *Store) DeleteQueue(ctx context.Context, name CollectionName, id int64) error {
	_, release, err := s.acquire(name, KindQueue)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE id = ?", quoteIdent(string(name))), id); err != nil {
		return fmt.Errorf("failed to delete %d from %s: %w", id, name, err)
	}
	return nil
}

// CountQueue returns the number of rows in the queue.
func (s *Store) CountQueue(ctx context.Context, name CollectionName) (int, error) {
	_, release, err := s.acquire(name, KindQueue)
	if err != nil {
		return 0, err
	}
	defer release()

	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s", quoteIdent(string(name)))).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return count, nil
}
