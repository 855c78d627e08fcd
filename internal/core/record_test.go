package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T, store Store, rows ...[]string) *Record {
	t.Helper()
	ctx := context.Background()
	id, err := CreateRecord(ctx, store, NewRecord{
		Title:        "people.csv - 1700000000",
		ImporterSlug: "people",
		Author:       "alice",
		Header:       []string{"name", "email"},
		Rows:         rows,
	})
	require.NoError(t, err)
	rec, err := LoadRecord(ctx, store, id)
	require.NoError(t, err)
	return rec
}

func TestCreateRecord_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	rec := newTestRecord(t, store, []string{"Ann", "ann@example.com"}, []string{"Bo"})

	assert.Equal(t, "people", rec.ImporterSlug)
	assert.Equal(t, "alice", rec.Author)
	assert.Equal(t, []string{"name", "email"}, rec.Header)
	assert.Equal(t, [][]string{{"Ann", "ann@example.com"}, {"Bo"}}, rec.Rows)
	assert.Equal(t, Progress{}, rec.Progress)
	assert.Nil(t, rec.StartedAt)

	data, err := store.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RecordKind, data.Kind)
	assert.Equal(t, 2, data.RowCount)
	assert.JSONEq(t, `[["name","email"],["Ann","ann@example.com"],["Bo"]]`, string(data.Content))
}

func TestCreateRecord_HeaderOnlyRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	rec := newTestRecord(t, store)

	assert.Equal(t, []string{"name", "email"}, rec.Header)
	require.NotNil(t, rec.Rows)
	assert.Empty(t, rec.Rows)

	header, rows, err := DecodeContent(mustEncode(t, rec.Header, [][]string{}))
	require.NoError(t, err)
	assert.Equal(t, rec.Header, header)
	assert.Equal(t, [][]string{}, rows)
}

func mustEncode(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()
	b, err := EncodeContent(header, rows)
	require.NoError(t, err)
	return b
}

func TestCreateRecord_Invalid(t *testing.T) {
	store := NewMemoryStore()
	_, err := CreateRecord(context.Background(), store, NewRecord{
		Title:        "",
		ImporterSlug: "Not A Slug",
		Header:       nil,
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Title")
	assert.Contains(t, err.Error(), "ImporterSlug")

	all, err := store.ListRecords(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLoadRecord_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := LoadRecord(context.Background(), store, uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLoadRecord_WrongKind(t *testing.T) {
	store := NewMemoryStore()
	id := uuid.New()
	require.NoError(t, store.InsertRecord(context.Background(), RecordData{
		ID:        id,
		Kind:      "post",
		Title:     "hello",
		Content:   []byte(`[["a"]]`),
		CreatedAt: time.Now(),
	}))

	_, err := LoadRecord(context.Background(), store, id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecord_NextBatchAndAdvance(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecord(t, NewMemoryStore(), []string{"a"}, []string{"b"}, []string{"c"})

	assert.False(t, rec.HasMoreRows(), "idle records hand out nothing")
	require.NoError(t, rec.Start(ctx))
	assert.True(t, rec.HasMoreRows())

	assert.Equal(t, [][]string{{"a"}, {"b"}}, rec.NextBatch(2))
	assert.Equal(t, 0, rec.Progress.CurrentRow, "NextBatch does not move the pointer")

	require.NoError(t, rec.Advance(ctx, 2))
	assert.Equal(t, [][]string{{"c"}}, rec.NextBatch(2))
	assert.Equal(t, 1, rec.Remaining())

	require.NoError(t, rec.Advance(ctx, 2))
	assert.Equal(t, 3, rec.Progress.CurrentRow, "pointer is clamped to the row count")
	assert.False(t, rec.HasMoreRows())
	assert.Nil(t, rec.NextBatch(2))

	assert.Error(t, rec.Advance(ctx, -1))
	assert.Nil(t, rec.NextBatch(0))
}

func TestRecord_ProgressIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := newTestRecord(t, store, []string{"a"}, []string{"b"})

	require.NoError(t, rec.Start(ctx))
	require.NoError(t, rec.Advance(ctx, 1))

	reloaded, err := LoadRecord(ctx, store, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Progress{CurrentRow: 1, Running: true}, reloaded.Progress)
	assert.NotNil(t, reloaded.StartedAt)

	require.NoError(t, rec.End(ctx))
	reloaded, err = LoadRecord(ctx, store, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Progress{}, reloaded.Progress)
}

func TestRecord_DeleteTwice(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := newTestRecord(t, store, []string{"a"})

	deleted, err := rec.Delete(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = rec.Delete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.ErrorIs(t, rec.Advance(ctx, 1), ErrRecordNotFound)
}

func TestDecodeContent(t *testing.T) {
	header, rows, err := DecodeContent([]byte(`[["h1","h2"]]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, header)
	require.NotNil(t, rows)
	assert.Empty(t, rows)

	_, _, err = DecodeContent([]byte(`[]`))
	assert.Error(t, err)

	_, _, err = DecodeContent([]byte(`{"not":"rows"}`))
	assert.Error(t, err)
}

func TestRecordSummary_Percent(t *testing.T) {
	assert.Equal(t, 100, RecordSummary{}.Percent())
	assert.Equal(t, 33, RecordSummary{RowCount: 3, CurrentRow: 1}.Percent())
	assert.Equal(t, 100, RecordSummary{RowCount: 3, CurrentRow: 3}.Percent())
}

func TestMemoryStore_ListRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i, slug := range []string{"people", "people", "orders"} {
		require.NoError(t, store.InsertRecord(ctx, RecordData{
			ID:           uuid.New(),
			Kind:         RecordKind,
			Title:        slug,
			ImporterSlug: slug,
			Content:      []byte(`[["a"]]`),
			CreatedAt:    time.Unix(int64(1000+i), 0),
		}))
	}

	people, err := store.ListRecords(ctx, ListFilter{ImporterSlug: "people"})
	require.NoError(t, err)
	assert.Len(t, people, 2)

	newest, err := store.ListRecords(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "orders", newest[0].ImporterSlug)
}
