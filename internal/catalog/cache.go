package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 30 * time.Second
	// DefaultFetchTimeout bounds a shared fetch once it no longer follows
	// the context of the caller that started it.
	DefaultFetchTimeout = 10 * time.Second
)

type cacheEntry struct {
	product   Product
	expiresAt time.Time
}

// Cache is a short-lived product cache in front of a Fetcher.
type Cache struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	metrics      *metrics.CartMetrics

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// generation is bumped on invalidation so an in-flight fetch started
	// before the invalidation does not repopulate a stale value.
	generation map[string]uint64
	epoch      uint64
	sfg        singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout caps how long one shared fetch may run.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(m *metrics.CartMetrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

func NewCache(fetcher Fetcher, opts ...CacheOption) (*Cache, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("product fetcher required")
	}
	c := &Cache{
		fetcher:      fetcher,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[string]cacheEntry),
		generation:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetProductByID returns the cached product when fresh, otherwise fetches it.
// Concurrent misses for the same id share one fetch.
func (c *Cache) GetProductByID(ctx context.Context, id string) (*Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	c.mu.RLock()
	entry, ok := c.entries[id]
	gen, epoch := c.generation[id], c.epoch
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		c.metrics.IncCacheLookup(metrics.CacheHit)
		product := entry.product
		return &product, nil
	}
	c.metrics.IncCacheLookup(metrics.CacheMiss)

	// Waiters share one fetch, so it runs detached from any single caller
	// and each caller stops waiting when its own context ends.
	ch := c.sfg.DoChan(id, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, id, gen, epoch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		product := res.Val.(Product)
		return &product, nil
	}
}

func (c *Cache) fetch(ctx context.Context, id string, gen, epoch uint64) (Product, error) {
	product, err := c.fetcher.FetchProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if product == nil {
		return Product{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
	}

	c.mu.Lock()
	if c.generation[id] == gen && c.epoch == epoch {
		c.entries[id] = cacheEntry{product: *product, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	return *product, nil
}

// Invalidate drops the cached entry for a product.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.generation[id]++
	c.mu.Unlock()
	c.sfg.Forget(id)
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.epoch++
	c.mu.Unlock()
}

// EvictExpired drops entries past their TTL and returns how many were removed.
func (c *Cache) EvictExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports how many products are cached, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
