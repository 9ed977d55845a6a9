// Package cache provides a size- and time-bounded map used to memoize
// resolved keys.
//
// Entries expire a fixed TTL after insertion and are dropped lazily when a
// read finds them stale. When an insert pushes the map past its size bound the
// earliest-inserted entries are evicted first; reads never change that order.
package cache

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/ef-ds/deque"

	"github.com/kiquetal/go-jwk-provider/internal/clock"
)

// ErrInvalidConfig is returned when a cache is built with out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid configuration")

// compactSlack is the number of superseded queue nodes tolerated beyond the
// live entry count before the insertion queue is rebuilt.
const compactSlack = 16

// EvictionReason tells an eviction callback why an entry left the cache.
type EvictionReason int

const (
	// Expired entries were found past their TTL on read.
	Expired EvictionReason = iota + 1
	// Evicted entries were dropped to keep the cache within its size bound.
	Evicted
	// Removed entries were deleted explicitly.
	Removed
)

func (r EvictionReason) String() string {
	switch r {
	case Expired:
		return "expired"
	case Evicted:
		return "evicted"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("EvictionReason(%d)", int(r))
	}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

type eviction[K comparable, V any] struct {
	key    K
	value  V
	reason EvictionReason
}

// Expiring is a bounded map with per-entry expiry. It is safe for concurrent use.
type Expiring[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*entry[K, V]
	// order holds *entry values in insertion order. Nodes whose entry has been
	// replaced or deleted stay queued until popped or compacted away.
	order *deque.Deque

	maxEntries int
	ttl        time.Duration
	clock      clock.Clock
	onEvict    func(K, V, EvictionReason)
}

// Option configures an Expiring cache.
type Option[K comparable, V any] func(*Expiring[K, V])

// WithClock sets the time source used for insertion timestamps and expiry.
func WithClock[K comparable, V any](c clock.Clock) Option[K, V] {
	return func(e *Expiring[K, V]) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithEvictCallback registers fn to be called whenever an entry expires, is
// evicted for size or is removed. fn runs outside the cache lock.
func WithEvictCallback[K comparable, V any](fn func(K, V, EvictionReason)) Option[K, V] {
	return func(e *Expiring[K, V]) {
		e.onEvict = fn
	}
}

// New creates a cache holding at most maxEntries entries, each living for ttl.
func New[K comparable, V any](maxEntries int, ttl time.Duration, opts ...Option[K, V]) (*Expiring[K, V], error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("%w: max entries must be at least 1, got %d", ErrInvalidConfig, maxEntries)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, ttl)
	}

	c := &Expiring[K, V]{
		items:      make(map[K]*entry[K, V], maxEntries),
		order:      deque.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// MaxEntries returns the size bound.
func (c *Expiring[K, V]) MaxEntries() int { return c.maxEntries }

// TTL returns the lifetime of every entry.
func (c *Expiring[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key if it has not expired.
// An expired entry is removed as a side effect.
func (c *Expiring[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	if c.clock.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, true
	}
	delete(c.items, key)
	c.mu.Unlock()

	c.notify([]eviction[K, V]{{key: e.key, value: e.value, reason: Expired}})
	return zero, false
}

// Set stores value under key, replacing any previous entry for key.
func (c *Expiring[K, V]) Set(key K, value V) {
	c.SetAll(func(yield func(K, V) bool) {
		yield(key, value)
	})
}

// SetAll stores every pair produced by seq. All entries share one insertion
// timestamp and enter the eviction order in the sequence's order.
func (c *Expiring[K, V]) SetAll(seq iter.Seq2[K, V]) {
	type pair struct {
		key   K
		value V
	}
	var pairs []pair
	for k, v := range seq {
		pairs = append(pairs, pair{k, v})
	}
	if len(pairs) == 0 {
		return
	}

	now := c.clock.Now()

	c.mu.Lock()
	for _, p := range pairs {
		e := &entry[K, V]{
			key:       p.key,
			value:     p.value,
			expiresAt: now.Add(c.ttl),
		}
		c.items[p.key] = e
		c.order.PushBack(e)
	}
	evicted := c.evictOverflow()
	c.compact()
	c.mu.Unlock()

	c.notify(evicted)
}

// Remove deletes key and reports the value it held.
func (c *Expiring[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	c.mu.Unlock()

	if !ok {
		var zero V
		return zero, false
	}
	c.notify([]eviction[K, V]{{key: e.key, value: e.value, reason: Removed}})
	return e.value, true
}

// Purge drops every entry without invoking the eviction callback.
func (c *Expiring[K, V]) Purge() {
	c.mu.Lock()
	c.items = make(map[K]*entry[K, V], c.maxEntries)
	c.order = deque.New()
	c.mu.Unlock()
}

// Len returns the number of resident entries, including expired entries
// that no read has swept yet.
func (c *Expiring[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOverflow pops the oldest live entries until the size bound holds.
// Must be called with c.mu held.
func (c *Expiring[K, V]) evictOverflow() []eviction[K, V] {
	var evicted []eviction[K, V]
	for len(c.items) > c.maxEntries {
		v, ok := c.order.PopFront()
		if !ok {
			break
		}
		e := v.(*entry[K, V])
		if c.items[e.key] != e {
			continue
		}
		delete(c.items, e.key)
		evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: Evicted})
	}
	return evicted
}

// compact drops superseded nodes from the insertion queue once they
// outnumber live entries. Must be called with c.mu held.
func (c *Expiring[K, V]) compact() {
	n := c.order.Len()
	if n <= 2*len(c.items)+compactSlack {
		return
	}
	for range n {
		v, _ := c.order.PopFront()
		e := v.(*entry[K, V])
		if c.items[e.key] == e {
			c.order.PushBack(e)
		}
	}
}

func (c *Expiring[K, V]) notify(evicted []eviction[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, ev := range evicted {
		c.onEvict(ev.key, ev.value, ev.reason)
	}
}
