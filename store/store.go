// Package store defines the persistence abstraction used by credpool: a TTL
// response cache plus the credential pool table. The store is the single
// source of durable truth for pool state; the pool manager keeps no state of
// its own across restarts.
//
// Allocate is the one concurrency-critical operation. Implementations MUST
// execute it as an atomic read-modify-write so that two concurrent callers
// never receive the same row for the same logical use.
package store

import (
	"context"
	"time"
)

const (
	// DefaultTTL bounds how long a cached response is served.
	DefaultTTL = 3000 * time.Second

	// DefaultCooldown is the rest period before an exhausted credential may
	// be handed out again.
	DefaultCooldown = 3600 * time.Second

	// DefaultFreshLimit is the number of uses before a credential must cool
	// down. Policy knob, not a hard law of the generator.
	DefaultFreshLimit = 2
)

// Row is one credential pool entry. UseCount is a historical counter; it is
// never capped or reset.
type Row struct {
	Param    string
	UseCount int
	LastUsed time.Time
}

// Store is the durable cache + pool contract.
// Must be safe for concurrent use.
type Store interface {
	// GetCache returns (value, true, nil) while the entry is unexpired.
	// Expired and missing are indistinguishable to the caller.
	GetCache(ctx context.Context, key string) ([]byte, bool, error)

	// SetCache upserts the entry and stamps it with the current time.
	SetCache(ctx context.Context, key string, value []byte) error

	// AddParams bulk-inserts new rows with zero use count. Duplicates (by
	// param) are silently ignored; the operation is idempotent.
	AddParams(ctx context.Context, params []string) error

	// CountAvailable reports rows still under the freshness limit.
	CountAvailable(ctx context.Context) (int, error)

	// Allocate atomically picks one usable row, increments its use count,
	// stamps it, and returns its param. ok=false means the pool is
	// exhausted; the store is left unchanged in that case.
	//
	// Selection is two-tiered: prefer rows under the freshness limit
	// ordered by (use count asc, last used asc); otherwise the
	// longest-cooled exhausted row whose cooldown has elapsed.
	Allocate(ctx context.Context) (param string, ok bool, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}
