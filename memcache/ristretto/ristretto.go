package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/credpool/memcache"
)

// Cache adapts dgraph-io/ristretto to memcache.Cache. Cost per entry is the
// value length; admission may reject writes under pressure, which is fine
// for a front cache.
type Cache struct {
	c *rc.Cache
}

var _ memcache.Cache = (*Cache)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (p *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cost := int64(len(value))
	if cost == 0 {
		cost = 1
	}
	return p.c.SetWithTTL(key, value, cost, ttl), nil
}

func (p *Cache) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Cache) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when enabled (not part of
// memcache.Cache).
func (p *Cache) Metrics() *rc.Metrics { return p.c.Metrics }
