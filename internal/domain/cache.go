package domain

import (
	"context"
	"time"
)

// Cache is a tenant-scoped byte store with expiry.
// Backs evidence packs, async batch results and rate-limit counters.
type Cache interface {
	// Get returns nil, nil when the key is absent or expired.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, tenantID string, key string) error

	// IncrementCounter bumps a fixed-window counter and returns its new value.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error

	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type"`

	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTTL"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDB"`

	// EnableTwoPhase reads the local LRU before Redis.
	EnableTwoPhase bool `json:"enableTwoPhase"`
}
