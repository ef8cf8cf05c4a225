// Package cache provides the caching layer for comfyaudit.
//
// Three backends implement the same byte-oriented interface:
//   - FileCache: on-disk cache for CLI usage
//   - RedisCache: shared cache for server deployments
//   - NullCache: disables caching entirely
//
// Keys are namespaced strings built with Key; values are opaque bytes so
// callers control their own serialization.
package cache

import (
	"context"
	"time"
)

// TTLPackageIndex is how long PyPI release listings stay fresh.
// Release lists only grow, so a stale entry can at worst hide a very
// recent upload until the next refresh.
const TTLPackageIndex = 12 * time.Hour

// Cache is the storage interface shared by all backends.
type Cache interface {
	// Get retrieves a value. The second return reports whether the key was
	// found; expired entries count as misses.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores a value with a TTL. A zero TTL means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
