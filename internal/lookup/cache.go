// Package lookup provides the TTL + single-flight cache that fronts the
// WHOIS/RDAP and DNS clients, plus the cached lookup services built on it.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads a value from the upstream source
type FetchFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache with per-key single-flight coalescing. Errors are
// never cached. An optional persistent tier is consulted on a memory miss.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	timeout time.Duration
	backing ports.CacheRepository
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry[V]
	sfGroup singleflight.Group

	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Options configures a Cache
type Options struct {
	// TTL is how long a fetched value stays valid (default 24h)
	TTL time.Duration
	// Timeout bounds each upstream fetch (default 5s)
	Timeout time.Duration
	// CleanupInterval controls expiry sweeps of the memory tier (default 10m)
	CleanupInterval time.Duration
	// Backing is the optional persistent tier
	Backing ports.CacheRepository
}

// NewCache creates a cache and starts its cleanup loop
func NewCache[V any](name string, opts Options, logger *zap.Logger) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Minute
	}

	c := &Cache[V]{
		name:        name,
		ttl:         opts.TTL,
		timeout:     opts.Timeout,
		backing:     opts.Backing,
		logger:      logger,
		entries:     make(map[string]entry[V]),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(opts.CleanupInterval)
	return c
}

// Get returns the cached value for key or loads it with fetch. Concurrent
// misses for the same key share one fetch. The shared fetch is detached from
// the first caller's cancellation and bounded by the lookup timeout, while
// every caller still returns as soon as its own ctx is done.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.getMemory(key); ok {
		metrics.LookupCacheHits.WithLabelValues(c.name, "memory").Inc()
		return v, nil
	}
	if v, ok := c.getBacking(ctx, key); ok {
		metrics.LookupCacheHits.WithLabelValues(c.name, "backing").Inc()
		return v, nil
	}
	metrics.LookupCacheMisses.WithLabelValues(c.name).Inc()

	ch := c.sfGroup.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		v, err := fetch(fctx)
		if err != nil {
			if errors.Is(fctx.Err(), context.DeadlineExceeded) {
				return v, fmt.Errorf("%s lookup %q: %w", c.name, key, core.ErrLookupTimeout)
			}
			return v, err
		}
		c.store(fctx, key, v)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Shared {
			metrics.LookupCoalesced.WithLabelValues(c.name).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s lookup %q: %w", c.name, key, core.ErrLookupTimeout)
		}
		return zero, ctx.Err()
	}
}

// Invalidate removes a key from both tiers
func (c *Cache[V]) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.backing != nil {
		if err := c.backing.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
		}
	}
}

// Len returns the number of entries in the memory tier
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop stops the cleanup loop
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *Cache[V]) getMemory(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) getBacking(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.backing == nil {
		return zero, false
	}
	data, expiresAt, err := c.backing.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			c.logger.Warn("Persistent cache read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()
	return v, true
}

func (c *Cache[V]) store(ctx context.Context, key string, v V) {
	expiresAt := c.now().Add(c.ttl)
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()

	if c.backing == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backing.Set(ctx, key, data, expiresAt); err != nil {
		c.logger.Warn("Failed to update persistent cache", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache[V]) sweep() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
