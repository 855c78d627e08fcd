package core

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/JonMunkholm/csvimport/internal/database"
)

// testPool connects to TEST_DATABASE_URL and applies migrations. Tests
// using it are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func TestPgStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(testPool(t))

	rec := newTestRecord(t, store, []string{"Ann", "ann@example.com"}, []string{"Bo", "bo@example.com"})
	t.Cleanup(func() { _, _ = store.DeleteRecord(ctx, rec.ID) })
	assert.Equal(t, [][]string{{"Ann", "ann@example.com"}, {"Bo", "bo@example.com"}}, rec.Rows)

	require.NoError(t, rec.Start(ctx))
	require.NoError(t, rec.Advance(ctx, 1))

	reloaded, err := LoadRecord(ctx, store, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Progress{CurrentRow: 1, Running: true}, reloaded.Progress)
	assert.NotNil(t, reloaded.StartedAt)

	list, err := store.ListRecords(ctx, ListFilter{ImporterSlug: "people"})
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	deleted, err := rec.Delete(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = LoadRecord(ctx, store, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, store.UpdateProgress(ctx, rec.ID, Progress{}), ErrRecordNotFound)
}

func TestPgScheduler_DedupAndClaim(t *testing.T) {
	ctx := context.Background()
	s := NewPgScheduler(testPool(t), SchedulerOptions{Logger: discardLogger(), ClaimLimit: 100})
	id := uuid.New()
	t.Cleanup(func() { _ = s.Unschedule(ctx, id, "alice") })

	before, err := s.PendingCount(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Schedule(ctx, id, "alice"))
	require.NoError(t, s.Schedule(ctx, id, "alice"))
	after, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	var claimed *DueTick
	deadline := time.Now().Add(2 * time.Second)
	for claimed == nil && time.Now().Before(deadline) {
		due, err := s.Claim(ctx)
		require.NoError(t, err)
		for i := range due {
			if due[i].RecordID == id {
				claimed = &due[i]
			}
		}
	}
	require.NotNil(t, claimed)

	// The running tick asks for its successor, which replaces the claim.
	require.NoError(t, s.Schedule(ctx, id, "alice"))
	s.complete(ctx, *claimed)
	after, err = s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	require.NoError(t, s.Unschedule(ctx, id, "alice"))
	after, err = s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
