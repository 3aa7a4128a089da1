package port

import (
	"context"
	"errors"
)

// ErrCacheMiss ключ отсутствует в кеше
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the interface for caching operations
type Cache interface {
	// Get retrieves a value from cache, ErrCacheMiss when the key is absent
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in cache
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes keys from cache, missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// Ping checks connectivity (readiness probe)
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}
