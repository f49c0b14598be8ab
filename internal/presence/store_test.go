package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, ttl, nil), mr
}

func TestStore_SetGetRemove(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	got, ok := store.Get(ctx, "u1")
	assert.True(t, ok)
	assert.Equal(t, "proxy-a", got)
	mr.CheckGet(t, KeyPrefix+"u1", "proxy-a")

	require.NoError(t, store.Remove(ctx, "u1"))
	_, ok = store.Get(ctx, "u1")
	assert.False(t, ok)

	// removing again is harmless
	assert.NoError(t, store.Remove(ctx, "u1"))
}

func TestStore_LastWriterWins(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	require.NoError(t, store.Set(ctx, "u1", "proxy-b"))

	got, ok := store.Get(ctx, "u1")
	assert.True(t, ok)
	assert.Equal(t, "proxy-b", got)
}

func TestStore_RemoveIfOwner(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-b"))

	removed, err := store.RemoveIfOwner(ctx, "u1", "proxy-a")
	require.NoError(t, err)
	assert.False(t, removed, "entry owned by another instance must survive")
	got, _ := store.Get(ctx, "u1")
	assert.Equal(t, "proxy-b", got)

	removed, err = store.RemoveIfOwner(ctx, "u1", "proxy-b")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok := store.Get(ctx, "u1")
	assert.False(t, ok)

	removed, err = store.RemoveIfOwner(ctx, "missing", "proxy-b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_RefreshKeepsOtherOwner(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	// absent entries are written
	owned, err := store.Refresh(ctx, "u1", "proxy-a")
	require.NoError(t, err)
	assert.True(t, owned)
	mr.CheckGet(t, KeyPrefix+"u1", "proxy-a")
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"u1"))

	// own entries get a fresh ttl
	mr.FastForward(30 * time.Second)
	owned, err = store.Refresh(ctx, "u1", "proxy-a")
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"u1"))

	// a session that moved to another instance is left alone
	require.NoError(t, store.Set(ctx, "u1", "proxy-b"))
	owned, err = store.Refresh(ctx, "u1", "proxy-a")
	require.NoError(t, err)
	assert.False(t, owned)
	got, _ := store.Get(ctx, "u1")
	assert.Equal(t, "proxy-b", got)
}

func TestStore_RefreshWithoutTTL(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	owned, err := store.Refresh(ctx, "u1", "proxy-a")
	require.NoError(t, err)
	assert.True(t, owned)
	mr.CheckGet(t, KeyPrefix+"u1", "proxy-a")
	assert.Zero(t, mr.TTL(KeyPrefix+"u1"))
}

func TestStore_TTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"u1"))

	mr.FastForward(2 * time.Minute)
	_, ok := store.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestStore_ReadFailureIsUnknown(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	mr.Close()

	got, ok := store.Get(ctx, "u1")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestStore_Entries(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	require.NoError(t, store.Set(ctx, "u2", "proxy-b"))
	require.NoError(t, mr.Set("unrelated", "x"))

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "proxy-a", "u2": "proxy-b"}, entries)
}

func TestStore_NilIsNoop(t *testing.T) {
	var store *Store
	ctx := context.Background()

	assert.NoError(t, store.Set(ctx, "u1", "proxy-a"))
	assert.NoError(t, store.Remove(ctx, "u1"))
	owned, err := store.Refresh(ctx, "u1", "proxy-a")
	assert.NoError(t, err)
	assert.False(t, owned)
	removed, err := store.RemoveIfOwner(ctx, "u1", "proxy-a")
	assert.NoError(t, err)
	assert.False(t, removed)
	_, ok := store.Get(ctx, "u1")
	assert.False(t, ok)
	entries, err := store.Entries(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
