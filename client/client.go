// Package client is the outbound HTTP client for the credential-protected
// remote API. Every request carries a pooled credential and a fresh
// traceparent; responses are cached read-through/write-through in the
// persistent store, optionally fronted by an in-memory cache. Concurrent
// identical requests collapse into one upstream call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/credpool"
	"github.com/unkn0wn-root/credpool/codec"
	"github.com/unkn0wn-root/credpool/internal/util"
	"github.com/unkn0wn-root/credpool/memcache"
	"github.com/unkn0wn-root/credpool/store"
)

// DefaultCredentialHeader is the header the remote service inspects for the
// per-request credential.
const DefaultCredentialHeader = "specialencodeparam"

const (
	defaultTimeout    = 15 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = time.Second
	defaultFrontTTL   = time.Minute
)

// Envelope is the cached shape of an upstream response.
type Envelope struct {
	Status int    `json:"s" msgpack:"s"`
	Body   []byte `json:"b" msgpack:"b"`
}

// HTTPError is a non-2xx upstream reply. Not cached.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("client: upstream returned %d", e.Status)
}

// Config tunes the client. BaseURL, Pool and Store are required.
type Config struct {
	BaseURL string
	Pool    credpool.Pool
	Store   store.Store // persistent response cache

	HTTPClient *http.Client          // nil => 15s timeout client
	Codec      codec.Codec[Envelope] // nil => msgpack
	Front      memcache.Cache        // optional in-memory front cache
	FrontTTL   time.Duration         // 0 => 1m

	// Client-side politeness limit toward the remote API. Zero disables.
	RateLimit rate.Limit
	Burst     int // 0 with RateLimit set => 1

	CredentialHeader string      // "" => DefaultCredentialHeader
	Headers          http.Header // static headers sent on every request

	Retries    int           // attempts on transport/timeout errors; 0 => 3
	RetryDelay time.Duration // first retry delay, doubles; 0 => 1s

	Logger credpool.Logger
}

type Client struct {
	http     *http.Client
	base     string
	pool     credpool.Pool
	store    store.Store
	codec    codec.Codec[Envelope]
	front    memcache.Cache
	frontTTL time.Duration
	limiter  *rate.Limiter
	credHdr  string
	headers  http.Header
	retries  int
	delay    time.Duration
	log      credpool.Logger

	sf singleflight.Group
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if cfg.Pool == nil {
		return nil, errors.New("client: pool is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("client: store is required")
	}

	c := &Client{
		http:     cfg.HTTPClient,
		base:     cfg.BaseURL,
		pool:     cfg.Pool,
		store:    cfg.Store,
		codec:    cfg.Codec,
		front:    cfg.Front,
		frontTTL: cfg.FrontTTL,
		credHdr:  cfg.CredentialHeader,
		headers:  cfg.Headers,
		retries:  cfg.Retries,
		delay:    cfg.RetryDelay,
		log:      cfg.Logger,
	}

	// defaults
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.codec == nil {
		c.codec = codec.Msgpack[Envelope]{}
	}
	if c.frontTTL == 0 {
		c.frontTTL = defaultFrontTTL
	}
	if c.credHdr == "" {
		c.credHdr = DefaultCredentialHeader
	}
	if c.retries == 0 {
		c.retries = defaultRetries
	}
	if c.delay == 0 {
		c.delay = defaultRetryDelay
	}
	if c.log == nil {
		c.log = credpool.NopLogger{}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return c, nil
}

// Do performs a cached request. payload (may be nil) is serialized as JSON;
// the request fingerprint covers method, endpoint and the canonicalized
// payload. Concurrent callers with the same fingerprint share one upstream
// round trip.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	body, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	key := util.RequestKey(method, endpoint, body)

	if resp, ok := c.cached(ctx, key); ok {
		return resp, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A singleflight loser may arrive here after the winner populated
		// the cache; re-check before going upstream.
		if resp, ok := c.cached(ctx, key); ok {
			return resp, nil
		}
		env, err := c.fetch(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		c.storeResponse(ctx, key, env)
		return env.Body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// DoUncached performs the request without consulting or populating the
// cache. The credential and traceparent headers are still attached.
func (c *Client) DoUncached(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	body, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	env, err := c.fetch(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// cached consults the front cache, then the persistent store, promoting
// store hits into the front.
func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.front != nil {
		if raw, ok, err := c.front.Get(ctx, key); err == nil && ok {
			if env, err := c.codec.Decode(raw); err == nil {
				return env.Body, true
			}
			_ = c.front.Del(ctx, key) // self-heal corrupt front entry
		}
	}

	raw, ok, err := c.store.GetCache(ctx, key)
	if err != nil || !ok {
		if err != nil {
			c.log.Warn("cache read failed; going upstream", credpool.Fields{"err": err})
		}
		return nil, false
	}
	env, err := c.codec.Decode(raw)
	if err != nil {
		c.log.Warn("cached entry undecodable; treating as miss", credpool.Fields{"key": key})
		return nil, false
	}
	if c.front != nil {
		_, _ = c.front.Set(ctx, key, raw, c.frontTTL)
	}
	return env.Body, true
}

func (c *Client) storeResponse(ctx context.Context, key string, env Envelope) {
	raw, err := c.codec.Encode(env)
	if err != nil {
		c.log.Error("encode response for cache", credpool.Fields{"err": err})
		return
	}
	if err := c.store.SetCache(ctx, key, raw); err != nil {
		c.log.Warn("cache write failed", credpool.Fields{"err": err})
	}
	if c.front != nil {
		_, _ = c.front.Set(ctx, key, raw, c.frontTTL)
	}
}

// fetch performs the actual upstream round trip: rate limit, credential,
// trace header, bounded retries on transport errors.
func (c *Client) fetch(ctx context.Context, method, endpoint string, body []byte) (Envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Envelope{}, err
		}
	}

	cred, err := c.pool.Credential(ctx)
	if err != nil {
		return Envelope{}, err
	}

	delay := c.delay
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return Envelope{}, ctx.Err()
			}
			delay *= 2
		}

		env, err := c.roundTrip(ctx, method, endpoint, body, cred)
		if err == nil {
			return env, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) || ctx.Err() != nil {
			return Envelope{}, err // don't retry upstream rejections or cancellation
		}
		lastErr = err
		c.log.Warn("request failed; retrying", credpool.Fields{"endpoint": endpoint, "err": err})
	}
	return Envelope{}, lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body []byte, cred string) (Envelope, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, rd)
	if err != nil {
		return Envelope{}, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(c.credHdr, cred)
	req.Header.Set("traceparent", newTraceparent())

	resp, err := c.http.Do(req)
	if err != nil {
		return Envelope{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Envelope{}, &HTTPError{Status: resp.StatusCode, Body: b}
	}
	return Envelope{Status: resp.StatusCode, Body: b}, nil
}

// canonicalPayload serializes the payload deterministically (encoding/json
// sorts map keys) so equivalent requests fingerprint identically.
func canonicalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("client: marshal payload: %w", err)
	}
	return b, nil
}

// Fetch runs Do and decodes the JSON response body into T.
func Fetch[T any](ctx context.Context, c *Client, method, endpoint string, payload any) (T, error) {
	var out T
	body, err := c.Do(ctx, method, endpoint, payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("client: decode %s: %w", endpoint, err)
	}
	return out, nil
}
