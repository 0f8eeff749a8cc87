// Package sqlite implements store.Store on a local SQLite database. This is
// the durable backend: pool state survives process restarts without
// replaying the generator.
//
// Writes go through immediate transactions (_txlock=immediate) so the
// two-tier Allocate read-modify-write is serialized at the database level.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/unkn0wn-root/credpool/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key       TEXT PRIMARY KEY,
	value     BLOB,
	timestamp INTEGER
);
CREATE TABLE IF NOT EXISTS pool (
	param     TEXT PRIMARY KEY,
	use_count INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER NOT NULL DEFAULT 0
);
`

type Store struct {
	db *sql.DB

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

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway store.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", url.PathEscape(path), url.Values{
		"_txlock":       {"immediate"},
		"_journal_mode": {"WAL"},
		"_synchronous":  {"NORMAL"},
		"_busy_timeout": {"5000"},
	}.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// A single connection sidesteps table-lock contention between the pool
	// writer and cache reads on the same file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}

	s := &Store{
		db:         db,
		ttl:        store.DefaultTTL,
		cooldown:   store.DefaultCooldown,
		freshLimit: store.DefaultFreshLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value  []byte
		stored int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM cache WHERE key = ?`, key,
	).Scan(&value, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get cache: %w", err)
	}
	if s.now().Unix()-stored >= int64(s.ttl/time.Second) {
		return nil, false, nil // expired entries are ignored, not deleted
	}
	return value, true, nil
}

func (s *Store) SetCache(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`REPLACE INTO cache (key, value, timestamp) VALUES (?, ?, ?)`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: set cache: %w", err)
	}
	return nil
}

func (s *Store) AddParams(ctx context.Context, params []string) error {
	if len(params) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: add params: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO pool (param, use_count, last_used) VALUES (?, 0, 0)`)
	if err != nil {
		return fmt.Errorf("sqlite: add params: %w", err)
	}
	defer stmt.Close()

	for _, p := range params {
		if _, err := stmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite: add params: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) CountAvailable(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pool WHERE use_count < ?`, s.freshLimit,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count available: %w", err)
	}
	return n, nil
}

func (s *Store) Allocate(ctx context.Context) (string, bool, error) {
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("sqlite: allocate: %w", err)
	}
	defer tx.Rollback()

	// Tier 1: fresh rows, never-used first, then least recently used.
	var param string
	err = tx.QueryRowContext(ctx,
		`SELECT param FROM pool
		 WHERE use_count < ?
		 ORDER BY use_count ASC, last_used ASC
		 LIMIT 1`, s.freshLimit,
	).Scan(&param)

	// Tier 2: longest-cooled exhausted row.
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			`SELECT param FROM pool
			 WHERE use_count >= ? AND last_used <= ?
			 ORDER BY last_used ASC
			 LIMIT 1`, s.freshLimit, now-int64(s.cooldown/time.Second),
		).Scan(&param)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil // exhausted; rollback leaves state unchanged
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: allocate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pool SET use_count = use_count + 1, last_used = ? WHERE param = ?`,
		now, param); err != nil {
		return "", false, fmt.Errorf("sqlite: allocate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("sqlite: allocate: %w", err)
	}
	return param, true, nil
}

func (s *Store) Close(context.Context) error { return s.db.Close() }
