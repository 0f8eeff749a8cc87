package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/credpool/memcache"
)

// Cache adapts allegro/bigcache to memcache.Cache. BigCache has no per-entry
// TTL; entries live for the configured global LifeWindow, so keep it at or
// under the store's TTL.
type Cache struct {
	c *bc.BigCache
}

var _ memcache.Cache = (*Cache)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Cache, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (p *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *Cache) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	// per-entry TTL unsupported; global LifeWindow applies
	return true, p.c.Set(key, value)
}

func (p *Cache) Del(_ context.Context, key string) error {
	return p.c.Delete(key)
}

func (p *Cache) Close(_ context.Context) error {
	return p.c.Close()
}
