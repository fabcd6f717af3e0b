package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenTTL is the freshness window used when CacheConfig.TTL is zero.
const DefaultTokenTTL = 60 * time.Second

// ErrEmptyToken is returned when a fetch succeeds with an empty token.
var ErrEmptyToken = errors.New("empty session token")

// Key identifies one cached token.
type Key struct {
	SessionID      string
	Template       string
	OrganizationID string
}

func (k Key) String() string {
	return k.SessionID + "|" + k.Template + "|" + k.OrganizationID
}

// Fetcher issues a fresh token for key.
type Fetcher func(ctx context.Context, key Key) (string, error)

// CacheHooks observe cache activity. Any hook may be nil.
type CacheHooks struct {
	Hit          func(Key)
	Miss         func(Key)
	FetchFailed  func(Key, error)
	FetchLatency func(time.Duration)
}

// CacheConfig configures a TokenCache.
type CacheConfig struct {
	TTL time.Duration
	// BoundByExpiry caps an entry's freshness window by the token's own exp
	// claim when the token decodes as a JWT.
	BoundByExpiry bool
	Now           func() time.Time
	Hooks         CacheHooks
}

type cachedToken struct {
	jwt       string
	fetchedAt time.Time
	ttl       time.Duration
}

func (t cachedToken) fresh(now time.Time) bool {
	return now.Sub(t.fetchedAt) < t.ttl
}

// TokenCache caches session tokens per Key and guarantees at most one
// outstanding fetch per key. A fetch is detached from the cancellation of the
// caller that started it; the Fetcher is expected to bound its own duration.
type TokenCache struct {
	config CacheConfig
	fetch  Fetcher

	mu         sync.Mutex
	entries    map[Key]cachedToken
	generation uint64

	group singleflight.Group
}

func NewTokenCache(cfg CacheConfig, fetch Fetcher) *TokenCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenCache{
		config:  cfg,
		fetch:   fetch,
		entries: make(map[Key]cachedToken),
	}
}

// TTL returns the configured freshness window.
func (c *TokenCache) TTL() time.Duration {
	return c.config.TTL
}

// Get returns the cached token for key while it is fresh, and otherwise
// fetches, stores and returns a new one.
func (c *TokenCache) Get(ctx context.Context, key Key) (string, error) {
	if token, ok := c.lookup(key); ok {
		if c.config.Hooks.Hit != nil {
			c.config.Hooks.Hit(key)
		}
		return token, nil
	}
	if c.config.Hooks.Miss != nil {
		c.config.Hooks.Miss(key)
	}
	return c.load(ctx, key, false)
}

// Refresh bypasses the cached value but still joins an outstanding fetch for key.
func (c *TokenCache) Refresh(ctx context.Context, key Key) (string, error) {
	return c.load(ctx, key, true)
}

// Seed stores token for key with fetchedAt = now when no entry exists. It
// reports whether the token was stored.
func (c *TokenCache) Seed(key Key, token string) bool {
	if token == "" {
		return false
	}
	now := c.config.Now()
	ttl := c.ttlFor(token, now)
	if ttl <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = cachedToken{jwt: token, fetchedAt: now, ttl: ttl}
	return true
}

// Invalidate drops every entry. Fetches already in flight complete for their
// callers but are not stored.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.entries)
}

// InvalidateSession drops entries owned by sessionID.
func (c *TokenCache) InvalidateSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for key := range c.entries {
		if key.SessionID == sessionID {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries, fresh or not.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TokenCache) lookup(key Key) (string, bool) {
	now := c.config.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !entry.fresh(now) {
		return "", false
	}
	return entry.jwt, true
}

func (c *TokenCache) load(ctx context.Context, key Key, force bool) (string, error) {
	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	// The flight is shared, so it must outlive the caller that started it.
	// Each caller still gives up on its own ctx below.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		// A flight that started after another one stored the key reuses it.
		if !force {
			if token, ok := c.lookup(key); ok {
				return token, nil
			}
		}
		start := time.Now()
		token, err := c.fetch(fetchCtx, key)
		if c.config.Hooks.FetchLatency != nil {
			c.config.Hooks.FetchLatency(time.Since(start))
		}
		if err == nil && token == "" {
			err = ErrEmptyToken
		}
		if err != nil {
			if c.config.Hooks.FetchFailed != nil {
				c.config.Hooks.FetchFailed(key, err)
			}
			return "", err
		}
		c.store(key, token, generation)
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *TokenCache) store(key Key, token string, generation uint64) {
	now := c.config.Now()
	ttl := c.ttlFor(token, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation || ttl <= 0 {
		return
	}
	c.entries[key] = cachedToken{jwt: token, fetchedAt: now, ttl: ttl}
}

func (c *TokenCache) ttlFor(token string, now time.Time) time.Duration {
	if !c.config.BoundByExpiry {
		return c.config.TTL
	}
	return jwt.BoundTTL(token, c.config.TTL, now)
}
