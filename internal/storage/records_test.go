package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_AssignsTimestamp(t *testing.T) {
	store := openMemory(t)
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	rec, err := store.Put(context.Background(), CollectionResults, Record{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00.000Z", rec.Timestamp)

	got, err := store.Get(context.Background(), CollectionResults, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Timestamp, got.Timestamp)
}

func TestPut_RequiresID(t *testing.T) {
	store := openMemory(t)

	_, err := store.Put(context.Background(), CollectionResults, Record{})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestPut_LastWriteWins(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, CollectionResults, Record{
		ID:        "r1",
		Timestamp: "2030-01-01T00:00:00.000Z",
		Fields:    map[string]any{"score": "first"},
	})
	require.NoError(t, err)

	// An older timestamp still wins because it was committed later.
	_, err = store.Put(ctx, CollectionResults, Record{
		ID:        "r1",
		Timestamp: "2001-01-01T00:00:00.000Z",
		Fields:    map[string]any{"score": "second"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, CollectionResults, "r1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Fields["score"])
	assert.Equal(t, "2001-01-01T00:00:00.000Z", got.Timestamp)
}

func TestGet_NotFound(t *testing.T) {
	store := openMemory(t)

	_, err := store.Get(context.Background(), CollectionResults, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAll_InsertionOrder(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		_, err := store.Put(ctx, CollectionResults, Record{ID: id})
		require.NoError(t, err)
	}
	// Overwrite keeps the original position.
	_, err := store.Put(ctx, CollectionResults, Record{ID: "c", Fields: map[string]any{"v": "2"}})
	require.NoError(t, err)

	all, err := store.GetAll(ctx, CollectionResults)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestListByTimestampAndCategory(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	records := []Record{
		{ID: "1", Timestamp: "2024-01-03T00:00:00.000Z", Fields: map[string]any{"category": "skills"}},
		{ID: "2", Timestamp: "2024-01-01T00:00:00.000Z", Fields: map[string]any{"category": "career"}},
		{ID: "3", Timestamp: "2024-01-02T00:00:00.000Z", Fields: map[string]any{"category": "skills"}},
	}
	for _, r := range records {
		_, err := store.Put(ctx, CollectionResults, r)
		require.NoError(t, err)
	}

	newest, err := store.ListByTimestamp(ctx, CollectionResults, true)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, "1", newest[0].ID)
	assert.Equal(t, "2", newest[2].ID)

	skills, err := store.ListByCategory(ctx, CollectionResults, "skills")
	require.NoError(t, err)
	require.Len(t, skills, 2)
	assert.Equal(t, "3", skills[0].ID)
	assert.Equal(t, "1", skills[1].ID)

	_, err = store.ListByCategory(ctx, CollectionCurrentResult, "skills")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestListByTimestamp_NormalizesOffsets(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	// 10:00+05:00 is 05:00Z, earlier than 06:00Z.
	_, err := store.Put(ctx, CollectionResults, Record{ID: "offset", Timestamp: "2024-01-01T10:00:00+05:00"})
	require.NoError(t, err)
	stored, err := store.Put(ctx, CollectionResults, Record{ID: "utc", Timestamp: "2024-01-01T06:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T06:00:00.000Z", stored.Timestamp)

	got, err := store.Get(ctx, CollectionResults, "offset")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T05:00:00.000Z", got.Timestamp)

	newest, err := store.ListByTimestamp(ctx, CollectionResults, true)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "utc", newest[0].ID)
	assert.Equal(t, "offset", newest[1].ID)

	_, err = store.Put(ctx, CollectionResults, Record{ID: "opaque", Timestamp: "yesterday"})
	require.NoError(t, err)
	got, err = store.Get(ctx, CollectionResults, "opaque")
	require.NoError(t, err)
	assert.Equal(t, "yesterday", got.Timestamp)
}

func TestDelete_Idempotent(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, CollectionResults, Record{ID: "keep"})
	require.NoError(t, err)
	_, err = store.Put(ctx, CollectionResults, Record{ID: "gone"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, CollectionResults, "gone"))
	afterOnce, err := store.GetAll(ctx, CollectionResults)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, CollectionResults, "gone"))
	afterTwice, err := store.GetAll(ctx, CollectionResults)
	require.NoError(t, err)

	assert.Equal(t, afterOnce, afterTwice)
	require.NoError(t, store.Delete(ctx, CollectionResults, "never-existed"))
}

func TestClear(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := store.Put(ctx, CollectionResults, Record{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, store.Clear(ctx, CollectionResults))
	require.NoError(t, store.Clear(ctx, CollectionResults))

	all, err := store.GetAll(ctx, CollectionResults)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecordOpsRejectQueues(t *testing.T) {
	store := openMemory(t)

	_, err := store.Put(context.Background(), CollectionChatQueue, Record{ID: "x"})
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = store.Put(context.Background(), CollectionName("portfolios"), Record{ID: "x"})
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestRecordJSON(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":1700000000000,"timestamp":"2024-01-01T00:00:00.000Z","category":"skills","score":87}`), &rec))

	assert.Equal(t, "1700000000000", rec.ID)
	assert.Equal(t, "skills", rec.Category())
	assert.Equal(t, json.Number("87"), rec.Fields["score"])

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1700000000000","timestamp":"2024-01-01T00:00:00.000Z","category":"skills","score":87}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &rec))
}
