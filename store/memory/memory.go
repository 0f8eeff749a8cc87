// Package memory implements store.Store in process memory. Useful for tests
// and for embedding the pool without a durable backend; state does not
// survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/credpool/store"
)

type cacheEntry struct {
	value    []byte
	storedAt time.Time
}

type Store struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
	rows  map[string]*store.Row

	ttl        time.Duration
	cooldown   time.Duration
	freshLimit int
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithTTL(d time.Duration) Option        { return func(s *Store) { s.ttl = d } }
func WithCooldown(d time.Duration) Option   { return func(s *Store) { s.cooldown = d } }
func WithFreshLimit(n int) Option           { return func(s *Store) { s.freshLimit = n } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		cache:      make(map[string]cacheEntry),
		rows:       make(map[string]*store.Row),
		ttl:        store.DefaultTTL,
		cooldown:   store.DefaultCooldown,
		freshLimit: store.DefaultFreshLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetCache(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().Sub(e.storedAt) >= s.ttl {
		return nil, false, nil // logically expired; row stays until overwritten
	}
	return e.value, true, nil
}

func (s *Store) SetCache(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, storedAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *Store) AddParams(_ context.Context, params []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range params {
		if _, exists := s.rows[p]; exists {
			continue
		}
		s.rows[p] = &store.Row{Param: p}
	}
	return nil
}

func (s *Store) CountAvailable(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.rows {
		if r.UseCount < s.freshLimit {
			n++
		}
	}
	return n, nil
}

func (s *Store) Allocate(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Tier 1: fresh rows, least used first, least recently used among ties.
	var pick *store.Row
	for _, r := range s.rows {
		if r.UseCount >= s.freshLimit {
			continue
		}
		if pick == nil || less(r, pick) {
			pick = r
		}
	}

	// Tier 2: longest-cooled exhausted row past the cooldown window
	// (inclusive: a row is eligible once exactly cooldown has elapsed).
	if pick == nil {
		cutoff := now.Add(-s.cooldown)
		for _, r := range s.rows {
			if r.UseCount < s.freshLimit || r.LastUsed.After(cutoff) {
				continue
			}
			if pick == nil || r.LastUsed.Before(pick.LastUsed) {
				pick = r
			}
		}
	}

	if pick == nil {
		return "", false, nil
	}
	pick.UseCount++
	pick.LastUsed = now
	return pick.Param, true, nil
}

// less orders by (use count, last used, param). The param tiebreak keeps the
// pick deterministic across map iteration order.
func less(a, b *store.Row) bool {
	if a.UseCount != b.UseCount {
		return a.UseCount < b.UseCount
	}
	if !a.LastUsed.Equal(b.LastUsed) {
		return a.LastUsed.Before(b.LastUsed)
	}
	return a.Param < b.Param
}

// SeedRow installs a row as-is. Test hook; not part of store.Store.
func (s *Store) SeedRow(r store.Row) {
	s.mu.Lock()
	row := r
	s.rows[r.Param] = &row
	s.mu.Unlock()
}

func (s *Store) Close(context.Context) error { return nil }
