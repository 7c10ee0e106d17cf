package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/genstudio/internal/quota"
)

func setupStore(t *testing.T, limit int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, limit, 7*24*time.Hour), mr
}

func record(i int) Record {
	return Record{
		ID:        fmt.Sprintf("rec-%03d", i),
		Prompt:    fmt.Sprintf("prompt %d", i),
		Mode:      "text2img",
		ModelID:   "demo-model",
		Images:    []string{fmt.Sprintf("https://cdn.example.com/%d.png", i)},
		CreatedAt: time.Unix(int64(i), 0).UTC(),
	}
}

func TestStore_PrependNewestFirst(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()
	owner := quota.Account(uuid.New())

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Prepend(ctx, owner, record(i)))
	}

	recs, err := store.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "rec-003", recs[0].ID)
	assert.Equal(t, "rec-001", recs[2].ID)
	assert.Equal(t, record(3).Images, recs[0].Images)
}

func TestStore_TruncatesAtLimit(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()
	owner := quota.Account(uuid.New())

	for i := 1; i <= 100; i++ {
		require.NoError(t, store.Prepend(ctx, owner, record(i)))
	}
	require.NoError(t, store.Prepend(ctx, owner, record(101)))

	recs, err := store.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, recs, 100)
	assert.Equal(t, "rec-101", recs[0].ID)
	assert.Equal(t, "rec-002", recs[99].ID, "oldest record must be evicted")
}

func TestStore_ListLimit(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()
	owner := quota.Guest("g1")

	for i := 1; i <= 10; i++ {
		require.NoError(t, store.Prepend(ctx, owner, record(i)))
	}

	recs, err := store.List(ctx, owner, 4)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "rec-010", recs[0].ID)
}

func TestStore_IdentitiesIsolated(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()

	require.NoError(t, store.Prepend(ctx, quota.Guest("same-id"), record(1)))

	recs, err := store.List(ctx, quota.Account(uuid.New()), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Delete(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()
	owner := quota.Guest("g2")

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Prepend(ctx, owner, record(i)))
	}

	removed, err := store.Delete(ctx, owner, "rec-002")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, owner, "rec-404")
	require.NoError(t, err)
	assert.False(t, removed)

	recs, err := store.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-003", recs[0].ID)
	assert.Equal(t, "rec-001", recs[1].ID)
}

func TestStore_Clear(t *testing.T) {
	store, _ := setupStore(t, 100)
	ctx := context.Background()
	owner := quota.Guest("g3")

	require.NoError(t, store.Prepend(ctx, owner, record(1)))
	require.NoError(t, store.Clear(ctx, owner))

	recs, err := store.List(ctx, owner, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_GuestHistoryExpires(t *testing.T) {
	store, mr := setupStore(t, 100)
	ctx := context.Background()
	guest := quota.Guest("g4")
	account := quota.Account(uuid.New())

	require.NoError(t, store.Prepend(ctx, guest, record(1)))
	require.NoError(t, store.Prepend(ctx, account, record(2)))

	mr.FastForward(8 * 24 * time.Hour)

	recs, err := store.List(ctx, guest, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = store.List(ctx, account, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestNewID_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID(now)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
