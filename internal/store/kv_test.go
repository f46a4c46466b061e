package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runKVSuite(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Set(ctx, "cart_t1", "a"))
	require.NoError(t, kv.Set(ctx, "cart_t2", "b"))
	require.NoError(t, kv.Set(ctx, "session_t1", "c"))

	v, err := kv.Get(ctx, "cart_t1")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	keys, err := kv.Keys(ctx, "cart_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cart_t1", "cart_t2"}, keys)

	require.NoError(t, kv.Delete(ctx, "cart_t1"))
	_, err = kv.Get(ctx, "cart_t1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, kv.Delete(ctx, "cart_t1"))

	// Overwrite.
	require.NoError(t, kv.Set(ctx, "session_t1", "d"))
	v, err = kv.Get(ctx, "session_t1")
	require.NoError(t, err)
	assert.Equal(t, "d", v)
}

func TestMemoryKV(t *testing.T) {
	runKVSuite(t, NewMemoryKV())
}

func TestBadgerKV(t *testing.T) {
	kv, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer kv.Close()
	runKVSuite(t, kv)
}

func TestBadgerKVPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	kv, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "guest_session_t1", "payload"))
	require.NoError(t, kv.Close())

	kv, err = OpenBadger(dir)
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Get(ctx, "guest_session_t1")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
}

func TestRedisKV(t *testing.T) {
	srv := miniredis.RunT(t)
	kv := NewRedisKVFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	defer kv.Close()
	runKVSuite(t, kv)
}
