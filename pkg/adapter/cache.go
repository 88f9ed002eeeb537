// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// LookupFunc fetches the current value for an id from the platform.
type LookupFunc[V any] func(ctx context.Context, id string) (V, error)

// CacheOptions configures a Cache. Zero values take the package defaults.
type CacheOptions struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	Log           zerolog.Logger
	Metrics       *Metrics
	// Now is the clock used for freshness checks.
	Now func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache maps ids to values fetched on demand. Entries older than the TTL are
// refreshed on access; when the refresh fails the stale value is served.
// Failed lookups are never stored. Concurrent misses for one id share a
// single lookup.
type Cache[V any] struct {
	name    string
	lookup  LookupFunc[V]
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry[V]
	group   singleflight.Group
}

func NewCache[V any](name string, lookup LookupFunc[V], opts CacheOptions) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		name:    name,
		lookup:  lookup,
		ttl:     opts.TTL,
		timeout: opts.LookupTimeout,
		now:     opts.Now,
		log:     opts.Log.With().Str("cache", name).Logger(),
		metrics: opts.Metrics,
		entries: make(map[string]cacheEntry[V]),
	}
}

// Get returns the value for id, fetching it when missing or stale. The
// lookup is detached from ctx: a caller that gives up stops waiting, but the
// lookup still completes and populates the cache.
func (c *Cache[V]) Get(ctx context.Context, id string) (V, bool) {
	var zero V
	if id == "" {
		return zero, false
	}

	c.mu.Lock()
	entry, cached := c.entries[id]
	c.mu.Unlock()

	if cached && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.count("hit")
		return entry.value, true
	}

	ch := c.group.DoChan(id, func() (any, error) {
		return c.fetch(id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			if cached {
				c.count("stale")
				c.log.Warn().Err(res.Err).Str("id", id).Msg("Refresh failed, serving stale entry")
				return entry.value, true
			}
			c.count("error")
			c.log.Warn().Err(res.Err).Str("id", id).Msg("Lookup failed")
			return zero, false
		}
		c.count("miss")
		return res.Val.(V), true
	case <-ctx.Done():
		if cached {
			return entry.value, true
		}
		return zero, false
	}
}

func (c *Cache[V]) fetch(id string) (V, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	value, err := c.lookup(ctx, id)
	if err != nil {
		return value, err
	}
	c.Set(id, value)
	return value, nil
}

// Peek returns the cached value for id without fetching. Stale entries are
// returned too.
func (c *Cache[V]) Peek(id string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	return entry.value, ok
}

// Set stores value as freshly fetched.
func (c *Cache[V]) Set(id string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cacheEntry[V]{value: value, fetchedAt: c.now()}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) count(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(c.name, result).Inc()
	}
}
