package ports

import (
	"context"
	"time"
)

// CacheRepository defines the persistent tier behind the lookup cache.
// Values are opaque encoded bytes keyed by namespaced strings such as
// "domain:example.com".
type CacheRepository interface {
	// Get retrieves a cached value. It returns ErrCacheMiss when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, time.Time, error)

	// Set stores a value until expiresAt
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Delete removes a cache entry
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}
