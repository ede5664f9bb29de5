package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
)

func TestRedisDedupeStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewDedupeStore(ctx, config.RedisConfig{Enabled: true, Addr: mr.Addr(), KeyPrefix: "relay:dedupe:"})
	require.NoError(t, err)
	defer store.Close()

	ok, err := store.Claim(ctx, "notify_immediate:acme:evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "notify_immediate:acme:evt-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// another tenant's key is independent
	ok, err = store.Claim(ctx, "notify_immediate:other:evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("relay:dedupe:notify_immediate:acme:evt-1"))
	mr.FastForward(2 * time.Hour)

	ok, err = store.Claim(ctx, "notify_immediate:acme:evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be claimed again")

	require.NoError(t, store.Release(ctx, "notify_immediate:acme:evt-1"))
	assert.False(t, mr.Exists("relay:dedupe:notify_immediate:acme:evt-1"))
}

func TestRedisDedupeStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisDedupeStore(client, "")
	defer store.Close()

	mr.Close()
	_, err := store.Claim(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestMemoryDedupeStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDedupeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, _ := store.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = store.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "k"))
	ok, _ = store.Claim(ctx, "k", 0)
	assert.True(t, ok)
	ok, _ = store.Claim(ctx, "k", 0)
	assert.False(t, ok, "zero ttl never expires")
}
