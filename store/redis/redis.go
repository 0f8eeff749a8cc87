// Package redis implements store.Store on Redis, for deployments that share
// one credential pool across replicas. Allocate runs as a single Lua script
// so the two-tier pick and the counter update are atomic server-side.
//
// Layout under the configured prefix:
//
//	<prefix>:cache:<key>  - response cache values (native TTL)
//	<prefix>:uses         - hash param -> use count
//	<prefix>:last         - hash param -> last used (unix seconds)
//	<prefix>:fresh        - zset of rows under the fresh limit,
//	                        score = use_count*1e10 + last_used
//	<prefix>:cooling      - zset of exhausted rows, score = last_used
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/credpool/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// allocScript picks tier 1 (head of fresh) or tier 2 (longest-cooled row past
// the cooldown), bumps the counters, and reslots the row. Returns false when
// the pool is exhausted. The composite fresh score keeps zset order equal to
// ORDER BY use_count, last_used for any realistic use count.
var allocScript = goredis.NewScript(`
local fresh, cooling, uses, last = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local pick = redis.call('ZRANGE', fresh, 0, 0)
if pick[1] == nil then
  pick = redis.call('ZRANGEBYSCORE', cooling, '-inf', now - cooldown, 'LIMIT', 0, 1)
end
if pick[1] == nil then
  return false
end

local param = pick[1]
local n = redis.call('HINCRBY', uses, param, 1)
redis.call('HSET', last, param, now)
if n < limit then
  redis.call('ZADD', fresh, n * 1e10 + now, param)
else
  redis.call('ZREM', fresh, param)
  redis.call('ZADD', cooling, now, param)
end
return param
`)

// addScript inserts params that are not yet known; existing rows keep their
// counters (ignore-on-conflict).
var addScript = goredis.NewScript(`
local fresh, uses = KEYS[1], KEYS[2]
local added = 0
for i = 1, #ARGV do
  if redis.call('HSETNX', uses, ARGV[i], 0) == 1 then
    redis.call('ZADD', fresh, 0, ARGV[i])
    added = added + 1
  end
end
return added
`)

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool

	ttl        time.Duration
	cooldown   time.Duration
	freshLimit int
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client goredis.UniversalClient
	Prefix string // defaults to "credpool"

	// CloseClient releases the client on Close. Set only if this store
	// exclusively owns it.
	CloseClient bool

	TTL        time.Duration // 0 => store.DefaultTTL
	Cooldown   time.Duration // 0 => store.DefaultCooldown
	FreshLimit int           // 0 => store.DefaultFreshLimit
	Now        func() time.Time
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		closeClient: cfg.CloseClient,
		ttl:         cfg.TTL,
		cooldown:    cfg.Cooldown,
		freshLimit:  cfg.FreshLimit,
		now:         cfg.Now,
	}
	if s.prefix == "" {
		s.prefix = "credpool"
	}
	if s.ttl == 0 {
		s.ttl = store.DefaultTTL
	}
	if s.cooldown == 0 {
		s.cooldown = store.DefaultCooldown
	}
	if s.freshLimit == 0 {
		s.freshLimit = store.DefaultFreshLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) cacheKey(key string) string { return s.prefix + ":cache:" + key }

func (s *Store) poolKeys() []string {
	return []string{
		s.prefix + ":fresh",
		s.prefix + ":cooling",
		s.prefix + ":uses",
		s.prefix + ":last",
	}
}

func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.cacheKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// SetCache relies on Redis' native expiry instead of a stored timestamp;
// expired entries are physically gone rather than ignored.
func (s *Store) SetCache(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.cacheKey(key), value, s.ttl).Err()
}

func (s *Store) AddParams(ctx context.Context, params []string) error {
	if len(params) == 0 {
		return nil
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}
	keys := []string{s.prefix + ":fresh", s.prefix + ":uses"}
	return addScript.Run(ctx, s.rdb, keys, args...).Err()
}

func (s *Store) CountAvailable(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.prefix+":fresh").Result()
	return int(n), err
}

func (s *Store) Allocate(ctx context.Context) (string, bool, error) {
	res, err := allocScript.Run(ctx, s.rdb, s.poolKeys(),
		s.now().Unix(),
		int64(s.cooldown/time.Second),
		s.freshLimit,
	).Result()
	if err == goredis.Nil {
		return "", false, nil // script returned false: pool exhausted
	}
	if err != nil {
		return "", false, err
	}
	param, _ := res.(string)
	if param == "" {
		return "", false, nil
	}
	return param, true, nil
}

func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
