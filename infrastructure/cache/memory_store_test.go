package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/facturio/invoicing-engine/shared/common"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(50*time.Millisecond, zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore_SetIfAbsent(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "lock", []byte("token-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetIfAbsent(ctx, "lock", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held key must not be overwritten")

	value, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("token-a"), value)
}

func TestMemoryStore_SetIfAbsentAfterExpiry(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "lock", []byte("token-a"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = store.SetIfAbsent(ctx, "lock", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired key behaves as absent")
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := store.SetIfAbsent(ctx, "lock", []byte("owner"), time.Minute)
	require.NoError(t, err)

	deleted, err := store.CompareAndDelete(ctx, "lock", []byte("intruder"))
	require.NoError(t, err)
	assert.False(t, deleted, "a mismatched token must not delete the key")

	deleted, err = store.CompareAndDelete(ctx, "lock", []byte("owner"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.CompareAndDelete(ctx, "lock", []byte("owner"))
	require.NoError(t, err)
	assert.False(t, deleted, "deleting an absent key reports false")
}

func TestMemoryStore_GetExpired(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "batch", []byte("payload"), 10*time.Millisecond))

	value, err := store.Get(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)

	time.Sleep(20 * time.Millisecond)

	_, err = store.Get(ctx, "batch")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeNotFound))
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("v"), time.Minute))
	require.NoError(t, store.Delete(ctx, "key"))
	require.NoError(t, store.Delete(ctx, "key"))

	_, err := store.Get(ctx, "key")
	assert.True(t, common.IsCode(err, common.ErrCodeNotFound))
}

func TestMemoryStore_SweepRemovesExpiredEntries(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []byte("v"), time.Minute))

	time.Sleep(120 * time.Millisecond)

	store.mu.Lock()
	_, shortExists := store.entries["short"]
	_, longExists := store.entries["long"]
	store.mu.Unlock()

	assert.False(t, shortExists, "sweep must remove expired entries")
	assert.True(t, longExists)
}
