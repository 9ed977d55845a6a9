// Package ratelimit implements a lazily refilled token bucket used to bound
// the volume of calls made to an upstream key-set endpoint.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kiquetal/go-jwk-provider/internal/clock"
)

// ErrInvalidConfig is returned when a bucket is built with out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes a bucket that holds at most Capacity tokens and gains
// RefillRate tokens every RefillInterval.
type Config struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// Validate checks that every parameter is strictly positive.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate < 1 {
		return fmt.Errorf("%w: refill rate must be at least 1, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %s", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Bucket is a token bucket safe for concurrent use. There is no background
// refill; tokens are credited from elapsed time on every call.
type Bucket struct {
	mu         sync.Mutex
	cfg        Config
	clock      clock.Clock
	tokens     float64
	lastRefill time.Time
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock sets the time source. Mostly useful in tests.
func WithClock(c clock.Clock) Option {
	return func(b *Bucket) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBucket creates a full bucket.
func NewBucket(cfg Config, opts ...Option) (*Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bucket{
		cfg:   cfg,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.tokens = float64(cfg.Capacity)
	b.lastRefill = b.clock.Now()

	return b, nil
}

// Config returns the bucket parameters.
func (b *Bucket) Config() Config {
	return b.cfg
}

// TryConsume takes one token if available. Refill and consumption happen in
// the same critical section so concurrent callers never spend the same token.
func (b *Bucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Available reports the current token count, including the fractional part.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// RetryAfter reports how long until one whole token is available.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(math.Ceil(missing * float64(b.cfg.RefillInterval) / float64(b.cfg.RefillRate)))
}

// refill credits tokens for the time elapsed since the last refill.
// Must be called with b.mu held.
func (b *Bucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		// No time passed or the clock went backwards.
		return
	}

	capacity := float64(b.cfg.Capacity)
	if b.tokens < capacity {
		added := float64(elapsed) * float64(b.cfg.RefillRate) / float64(b.cfg.RefillInterval)
		b.tokens = min(b.tokens+added, capacity)
	}
	b.lastRefill = now
}
