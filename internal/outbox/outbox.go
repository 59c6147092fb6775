// Package outbox holds mutations that could not reach the remote API so they
// can be replayed once connectivity returns.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/internal/storage"
)

// ErrNotAQueue is returned by New for collections that are not queues.
var ErrNotAQueue = errors.New("collection is not a queue")

// Entry is one pending outbound mutation.
type Entry struct {
	ID             int64           `json:"id"`
	Token          string          `json:"token"`
	Data           json.RawMessage `json:"data"`
	ComponentType  string          `json:"componentType,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	EnqueuedAt     string          `json:"enqueuedAt"`
}

// Storage is the subset of *storage.Store a queue needs.
type Storage interface {
	AppendQueue(ctx context.Context, name storage.CollectionName, row storage.QueueRow) (storage.QueueRow, error)
	MaxQueueID(ctx context.Context, name storage.CollectionName) (int64, error)
	ScanQueue(ctx context.Context, name storage.CollectionName, afterID, maxID int64, limit int) ([]storage.QueueRow, error)
	DeleteQueue(ctx context.Context, name storage.CollectionName, id int64) error
	CountQueue(ctx context.Context, name storage.CollectionName) (int, error)
}

// Queue is a durable FIFO of entries for one family of remote writes.
type Queue struct {
	store    Storage
	name     storage.CollectionName
	pageSize int
}

// New returns the queue stored in the collection name.
func New(store Storage, name storage.CollectionName) (*Queue, error) {
	schema, ok := storage.SchemaFor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, name)
	}
	if schema.Kind != storage.KindQueue {
		return nil, fmt.Errorf("%w: %s", ErrNotAQueue, name)
	}
	return &Queue{store: store, name: name, pageSize: 50}, nil
}

// Name returns the backing collection.
func (q *Queue) Name() storage.CollectionName {
	return q.name
}

// Enqueue appends e and returns it with its sequential id. An idempotency key
// is generated when e does not carry one.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.New().String()
	}

	row, err := q.store.AppendQueue(ctx, q.name, storage.QueueRow{
		Token:          e.Token,
		Data:           e.Data,
		ComponentType:  e.ComponentType,
		IdempotencyKey: e.IdempotencyKey,
		EnqueuedAt:     e.EnqueuedAt,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to enqueue into %s: %w", q.name, err)
	}

	entry := fromRow(row)
	logrus.WithFields(logrus.Fields{
		"queue":           q.name,
		"id":              entry.ID,
		"idempotency_key": entry.IdempotencyKey,
	}).Debug("Enqueued entry")
	return entry, nil
}

// Snapshot returns a cursor over the entries present now. Entries enqueued
// after the call are not visited.
func (q *Queue) Snapshot(ctx context.Context) (*Snapshot, error) {
	maxID, err := q.store.MaxQueueID(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", q.name, err)
	}
	return &Snapshot{queue: q, maxID: maxID}, nil
}

// ListPending returns every entry in enqueue order.
func (q *Queue) ListPending(ctx context.Context) ([]Entry, error) {
	snap, err := q.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for {
		e, ok, err := snap.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, e)
	}
}

// Remove deletes the entry with id. Removing a missing id succeeds.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	if err := q.store.DeleteQueue(ctx, q.name, id); err != nil {
		return fmt.Errorf("failed to remove %d from %s: %w", id, q.name, err)
	}
	return nil
}

// Depth returns the number of pending entries.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountQueue(ctx, q.name)
}

// Snapshot walks a queue lazily, one page at a time, up to the id that was
// highest when it was taken. Entries removed while walking are skipped.
type Snapshot struct {
	queue  *Queue
	maxID  int64
	cursor int64
	page   []storage.QueueRow
}

// Next returns the next entry. ok is false once the snapshot is exhausted.
func (s *Snapshot) Next(ctx context.Context) (Entry, bool, error) {
	if len(s.page) == 0 {
		if s.cursor >= s.maxID {
			return Entry{}, false, nil
		}
		rows, err := s.queue.store.ScanQueue(ctx, s.queue.name, s.cursor, s.maxID, s.queue.pageSize)
		if err != nil {
			return Entry{}, false, fmt.Errorf("failed to read %s: %w", s.queue.name, err)
		}
		if len(rows) == 0 {
			s.cursor = s.maxID
			return Entry{}, false, nil
		}
		s.page = rows
	}

	row := s.page[0]
	s.page = s.page[1:]
	s.cursor = row.ID
	return fromRow(row), true, nil
}

// Rewind restarts the walk from the first entry of the snapshot.
func (s *Snapshot) Rewind() {
	s.cursor = 0
	s.page = nil
}

// MaxID is the upper bound the snapshot was taken at.
func (s *Snapshot) MaxID() int64 {
	return s.maxID
}

func fromRow(row storage.QueueRow) Entry {
	return Entry{
		ID:             row.ID,
		Token:          row.Token,
		Data:           row.Data,
		ComponentType:  row.ComponentType,
		IdempotencyKey: row.IdempotencyKey,
		EnqueuedAt:     row.EnqueuedAt,
	}
}
