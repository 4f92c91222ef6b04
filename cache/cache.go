package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Cache combines the local and shared tiers. None of its methods return an
// error: shared tier failures are logged and the call degrades to local-only.
type Cache struct {
	local  *Local
	shared Shared
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	maxTTL time.Duration
	// bypass holds prefixes whose shared invalidation failed, mapped to the
	// time their stale shared entries are known to have expired.
	bypass map[string]time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithShared adds a shared tier
func WithShared(shared Shared) Option {
	return func(c *Cache) { c.shared = shared }
}

// WithTTL sets the TTL used by Set when the caller passes zero
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock sets the clock used to expire shared tier bypasses
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// WithLogger sets the logger for degraded shared tier calls
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a Cache over local
func New(local *Local, opts ...Option) *Cache {
	c := &Cache{
		local:  local,
		ttl:    DefaultTTL,
		clock:  clock.WallClock,
		logger: slog.Default(),
		bypass: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.maxTTL = c.ttl
	return c
}

// Get returns the cached value for key. The shared tier is consulted first;
// the local tier answers when the shared tier misses or fails, and for keys
// under a prefix whose shared invalidation failed.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.useShared(key) {
		value, err := c.shared.Get(ctx, key)
		switch {
		case err == nil:
			return value, true
		case !errors.Is(err, ErrMiss):
			c.logger.Debug("shared cache get failed", "key", key, "error", err)
		}
	}
	return c.local.Get(key)
}

// Set stores value for ttl (the default TTL when ttl is zero). The local tier
// is written only when there is no shared tier or the shared write fails;
// otherwise a stale local copy could outlive another process's invalidation.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.maxTTL = max(c.maxTTL, ttl)
	c.mu.Unlock()
	if c.useShared(key) {
		err := c.shared.Set(ctx, key, value, ttl)
		if err == nil {
			return
		}
		c.logger.Debug("shared cache set failed", "key", key, "error", err)
	}
	c.local.Set(key, value, ttl)
}

// Invalidate removes every key starting with one of prefixes from both tiers
// and returns how many keys were removed. When the shared delete fails the
// prefix is served from the local tier only until every shared entry that
// could have survived has expired, or until a later invalidation succeeds.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...string) int {
	removed := 0
	for _, prefix := range prefixes {
		removed += c.local.DeletePrefix(prefix)
		if c.shared == nil {
			continue
		}
		n, err := c.shared.DeletePrefix(ctx, prefix)
		if err != nil {
			until := c.suspend(prefix)
			c.logger.Warn("shared cache invalidate failed, bypassing shared tier",
				"prefix", prefix, "until", until, "error", err)
			continue
		}
		c.mu.Lock()
		delete(c.bypass, prefix)
		c.mu.Unlock()
		removed += n
	}
	return removed
}

func (c *Cache) suspend(prefix string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.clock.Now().Add(c.maxTTL)
	if until.After(c.bypass[prefix]) {
		c.bypass[prefix] = until
	}
	return c.bypass[prefix]
}

// useShared reports whether key may be read from and written to the shared
// tier.
func (c *Cache) useShared(key string) bool {
	if c.shared == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bypass) == 0 {
		return true
	}
	now := c.clock.Now()
	shared := true
	for prefix, until := range c.bypass {
		if !now.Before(until) {
			delete(c.bypass, prefix)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			shared = false
		}
	}
	return shared
}
