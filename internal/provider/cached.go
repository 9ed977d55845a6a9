package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/singleflight"

	"github.com/kiquetal/go-jwk-provider/internal/cache"
	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

// setFlight is the singleflight key for whole-set loads. Per-kid loads use
// the kid prefixed with kidFlight so the two can never collide.
const (
	setFlight = "set"
	kidFlight = "kid:"
)

// Cached memoizes keys by kid for a fixed lifetime. On a miss it loads the
// whole set when the wrapped provider can list it, so one upstream call
// seeds every kid. Failures and unknown kids are never cached.
type Cached struct {
	inner    KeyProvider
	set      SetProvider
	keys     *cache.Expiring[string, *jwks.Key]
	group    singleflight.Group
	coalesce bool
	logger   *slog.Logger

	hits        metrics.Counter
	misses      metrics.Counter
	evictions   metrics.Counter
	expirations metrics.Counter
}

// NewCached wraps inner with a cache of at most size keys, each kept for ttl.
func NewCached(inner KeyProvider, size int, ttl time.Duration, opts ...Option) (*Cached, error) {
	return newCached(inner, size, ttl, newSettings(opts))
}

func newCached(inner KeyProvider, size int, ttl time.Duration, s *settings) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil inner provider", ErrInvalidConfiguration)
	}

	c := &Cached{
		inner:       inner,
		coalesce:    s.coalesce,
		logger:      s.logger,
		hits:        counter(s.registry, MetricCacheHits),
		misses:      counter(s.registry, MetricCacheMisses),
		evictions:   counter(s.registry, MetricCacheEvictions),
		expirations: counter(s.registry, MetricCacheExpirations),
	}
	c.set, _ = asSetProvider(inner)

	keys, err := cache.New(size, ttl,
		cache.WithClock[string, *jwks.Key](s.clock),
		cache.WithEvictCallback(c.onEvict),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	c.keys = keys

	gauge := metrics.NewFunctionalGauge(func() int64 {
		return int64(keys.Len())
	})
	if err := s.registry.Register(MetricCacheSize, gauge); err != nil {
		return nil, fmt.Errorf("%w: registry already tracks a cache: %w", ErrInvalidConfiguration, err)
	}

	return c, nil
}

// GetKey returns the cached key for kid or loads it from the wrapped provider.
func (c *Cached) GetKey(ctx context.Context, kid string) (*jwks.Key, error) {
	if k, ok := c.keys.Get(kid); ok {
		c.hits.Inc(1)
		c.logger.Debug("Key cache hit", "kid", kid)
		return k, nil
	}
	c.misses.Inc(1)
	c.logger.Debug("Key cache miss", "kid", kid)

	if c.set != nil {
		keys, err := c.loadSet(ctx)
		if err != nil {
			return nil, err
		}
		k, ok := findKey(keys, kid)
		if !ok {
			return nil, errKeyNotFound(kid)
		}
		return k, nil
	}

	return c.loadOne(ctx, kid)
}

// Len returns the number of cached keys.
func (c *Cached) Len() int {
	return c.keys.Len()
}

// Invalidate drops kid from the cache so the next lookup reaches the
// wrapped provider.
func (c *Cached) Invalidate(kid string) {
	c.keys.Remove(kid)
}

// Purge drops every cached key.
func (c *Cached) Purge() {
	c.keys.Purge()
}

func (c *Cached) loadSet(ctx context.Context) ([]*jwks.Key, error) {
	fetch := func(ctx context.Context) (any, error) {
		keys, err := c.set.GetKeys(ctx)
		if err != nil {
			return nil, err
		}
		c.keys.SetAll(func(yield func(string, *jwks.Key) bool) {
			seen := make(map[string]struct{}, len(keys))
			for _, k := range keys {
				// Lookups return the first key with a kid; cache the same one.
				if _, dup := seen[k.ID()]; dup {
					continue
				}
				seen[k.ID()] = struct{}{}
				if !yield(k.ID(), k) {
					return
				}
			}
		})
		c.logger.Debug("Key set cached", "key_count", len(keys))
		return keys, nil
	}

	v, err := c.do(ctx, setFlight, fetch)
	if err != nil {
		return nil, err
	}
	return v.([]*jwks.Key), nil
}

func (c *Cached) loadOne(ctx context.Context, kid string) (*jwks.Key, error) {
	v, err := c.do(ctx, kidFlight+kid, func(ctx context.Context) (any, error) {
		k, err := c.inner.GetKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		c.keys.Set(kid, k)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jwks.Key), nil
}

// do runs fn, sharing one call among concurrent callers for the same key
// when coalescing is on. The shared call ignores the cancellation of whichever
// caller started it; each caller stops waiting when its own ctx is done.
func (c *Cached) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if !c.coalesce {
		return fn(ctx)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Key load shared with concurrent callers", "flight", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cached) onEvict(kid string, _ *jwks.Key, reason cache.EvictionReason) {
	switch reason {
	case cache.Evicted:
		c.evictions.Inc(1)
	case cache.Expired:
		c.expirations.Inc(1)
	}
	c.logger.Debug("Key left cache", "kid", kid, "reason", reason.String())
}
