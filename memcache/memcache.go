// Package memcache defines the optional in-memory front cache the client
// puts ahead of the persistent store. A front cache only cuts store reads;
// the persistent store stays authoritative for TTL and durability.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte previously passed to Set for a key.
package memcache

import (
	"context"
	"time"
)

// Cache is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Cache interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. Implementations may reject the
	// write under pressure (ok=false) or ignore the TTL if they only
	// support a global life window.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
