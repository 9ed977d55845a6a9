package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcrowley/go-metrics"

	"github.com/kiquetal/go-jwk-provider/internal/jwks"
	"github.com/kiquetal/go-jwk-provider/internal/ratelimit"
)

// RateLimited admits calls to the wrapped provider only while its bucket has
// a token. Rejected calls never reach the wrapped provider.
type RateLimited struct {
	inner  KeyProvider
	set    SetProvider
	bucket *ratelimit.Bucket
	logger *slog.Logger

	admitted metrics.Counter
	rejected metrics.Counter
}

// NewRateLimited wraps inner with one bucket shared by every caller.
func NewRateLimited(inner KeyProvider, cfg ratelimit.Config, opts ...Option) (*RateLimited, error) {
	return newRateLimited(inner, cfg, newSettings(opts))
}

func newRateLimited(inner KeyProvider, cfg ratelimit.Config, s *settings) (*RateLimited, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil inner provider", ErrInvalidConfiguration)
	}
	bucket, err := ratelimit.NewBucket(cfg, ratelimit.WithClock(s.clock))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	p := &RateLimited{
		inner:    inner,
		bucket:   bucket,
		logger:   s.logger,
		admitted: counter(s.registry, MetricRateLimitAdmitted),
		rejected: counter(s.registry, MetricRateLimitRejected),
	}
	p.set, _ = asSetProvider(inner)
	return p, nil
}

// GetKey consumes one token and delegates to the wrapped provider.
func (p *RateLimited) GetKey(ctx context.Context, kid string) (*jwks.Key, error) {
	if err := p.admit(); err != nil {
		return nil, err
	}
	return p.inner.GetKey(ctx, kid)
}

// GetKeys consumes one token and asks the wrapped provider for its key set.
// It fails unless SupportsKeySet reports true.
func (p *RateLimited) GetKeys(ctx context.Context) ([]*jwks.Key, error) {
	if p.set == nil {
		return nil, fmt.Errorf("%w: wrapped provider cannot list its key set", ErrInvalidConfiguration)
	}
	if err := p.admit(); err != nil {
		return nil, err
	}
	return p.set.GetKeys(ctx)
}

// SupportsKeySet reports whether the wrapped provider can list its key set.
func (p *RateLimited) SupportsKeySet() bool {
	return p.set != nil
}

// Bucket exposes the underlying token bucket.
func (p *RateLimited) Bucket() *ratelimit.Bucket {
	return p.bucket
}

func (p *RateLimited) admit() error {
	if p.bucket.TryConsume() {
		p.admitted.Inc(1)
		return nil
	}
	p.rejected.Inc(1)
	retryAfter := p.bucket.RetryAfter()
	p.logger.Warn("Key lookup rate limited", "retry_after", retryAfter)
	return &RateLimitError{RetryAfter: retryAfter}
}
