package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_ConcurrentDuplicateIsShortCircuited(t *testing.T) {
	_, client := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), time.Minute, testLogger())
	ctx := context.Background()

	err := m.Execute(ctx, "order-1", func(ctx context.Context) error {
		return m.Execute(ctx, "order-1", func(context.Context) error {
			t.Fatal("nested duplicate must not run")
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestManager_ReleasesAfterCompletion(t *testing.T) {
	mr, client := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), time.Minute, testLogger())
	ctx := context.Background()

	boom := errors.New("boom")
	require.ErrorIs(t, m.Execute(ctx, "order-2", func(context.Context) error { return boom }), boom)
	assert.False(t, mr.Exists("idempotency:order-2:lock"))

	calls := 0
	require.NoError(t, m.Execute(ctx, "order-2", func(context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestManager_LockExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	ctx := context.Background()

	locked, err := store.Lock(ctx, "order-3", "stale", time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	mr.FastForward(2 * time.Second)

	m := NewManager(store, time.Minute, testLogger())
	assert.NoError(t, m.Execute(ctx, "order-3", func(context.Context) error { return nil }))
}

func TestRedisStore_ReleaseKeepsForeignLock(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	ctx := context.Background()

	locked, err := store.Lock(ctx, "order-4", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, store.Release(ctx, "order-4", "intruder"))
	assert.True(t, mr.Exists("idempotency:order-4:lock"))

	require.NoError(t, store.Release(ctx, "order-4", "owner"))
	assert.False(t, mr.Exists("idempotency:order-4:lock"))
}

func TestManager_FailsOpenWhenRedisIsDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), time.Minute, testLogger())
	mr.Close()

	ran := false
	err := m.Execute(context.Background(), "order-5", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	locked, err := store.Lock(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = store.Lock(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, store.Release(ctx, "k", "a"))
	locked, err = store.Lock(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestKey(t *testing.T) {
	k := Key("webhook", "1-42")
	assert.Equal(t, k, Key("webhook", "1-42"))
	assert.NotEqual(t, k, Key("webhook", "1-43"))
	assert.True(t, strings.HasPrefix(k, "webhook:"))
	assert.Len(t, k, len("webhook:")+32)

	assert.NotEqual(t, Key("update", "a", "bc"), Key("update", "ab", "c"))
}
