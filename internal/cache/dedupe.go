package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// DedupeStore claims dedupe keys. Claim reports true only for the first
// caller of a key within its TTL.
type DedupeStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

// NewDedupeStore returns a Redis-backed store when Redis is enabled and an
// in-process store otherwise.
func NewDedupeStore(ctx context.Context, cfg config.RedisConfig) (DedupeStore, error) {
	if !cfg.Enabled {
		utils.ComponentLogger("cache").Warn("Redis disabled, dedupe keys are kept in process memory")
		return NewMemoryDedupeStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisDedupeStore(client, cfg.KeyPrefix), nil
}

// RedisDedupeStore claims keys with SET NX
type RedisDedupeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDedupeStore wraps an existing client
func NewRedisDedupeStore(client *redis.Client, prefix string) *RedisDedupeStore {
	return &RedisDedupeStore{client: client, prefix: prefix}
}

// Claim sets the key if it is absent
func (r *RedisDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim failed: %w", err)
	}
	return ok, nil
}

// Release deletes a claimed key so the work can be retried
func (r *RedisDedupeStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedupe release failed: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisDedupeStore) Close() error {
	return r.client.Close()
}

// MemoryDedupeStore is a process-local DedupeStore
type MemoryDedupeStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDedupeStore creates an empty in-memory store
func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{entries: make(map[string]time.Time), now: time.Now}
}

// Claim records key until ttl elapses
func (m *MemoryDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.entries[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.entries[key] = exp

	// opportunistic sweep keeps the map bounded by live keys
	if len(m.entries) > 1024 {
		for k, e := range m.entries {
			if !e.IsZero() && !now.Before(e) {
				delete(m.entries, k)
			}
		}
	}
	return true, nil
}

// Release forgets key
func (m *MemoryDedupeStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op
func (m *MemoryDedupeStore) Close() error { return nil }
