package provider

import (
	"log/slog"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/kiquetal/go-jwk-provider/internal/clock"
	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

// Pipeline defaults used when an option does not override them.
const (
	DefaultCacheSize      = 5
	DefaultCacheTTL       = 10 * time.Hour
	DefaultBucketSize     = 10
	DefaultRefillRate     = 10
	DefaultRefillInterval = time.Minute
)

type settings struct {
	cached    bool
	cacheSize int
	cacheTTL  time.Duration

	rateLimited    bool
	bucketSize     int
	refillRate     int
	refillInterval time.Duration

	coalesce   bool
	clock      clock.Clock
	logger     *slog.Logger
	registry   metrics.Registry
	sourceOpts []jwks.SourceOption
}

func newSettings(opts []Option) *settings {
	s := &settings{
		cached:         true,
		cacheSize:      DefaultCacheSize,
		cacheTTL:       DefaultCacheTTL,
		rateLimited:    true,
		bucketSize:     DefaultBucketSize,
		refillRate:     DefaultRefillRate,
		refillInterval: DefaultRefillInterval,
		coalesce:       true,
		clock:          clock.Real(),
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = metrics.NewRegistry()
	}
	return s
}

// Option configures a pipeline built by New, NewForURL or NewForDomain.
// The stage constructors honour WithClock, WithLogger, WithMetrics and
// WithCoalescing and ignore the rest.
type Option func(*settings)

// WithCache enables the cache stage with the given bound and entry lifetime.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *settings) {
		s.cached = true
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithoutCache removes the cache stage.
func WithoutCache() Option {
	return func(s *settings) {
		s.cached = false
	}
}

// WithRateLimit enables the rate limit stage: a bucket of capacity tokens
// gaining rate tokens every interval.
func WithRateLimit(capacity, rate int, interval time.Duration) Option {
	return func(s *settings) {
		s.rateLimited = true
		s.bucketSize = capacity
		s.refillRate = rate
		s.refillInterval = interval
	}
}

// WithoutRateLimit removes the rate limit stage.
func WithoutRateLimit() Option {
	return func(s *settings) {
		s.rateLimited = false
	}
}

// WithClock sets the time source for the bucket and the cache.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger shared by every stage.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the registry the stages record their counters in. A
// registry belongs to one pipeline; building a second cache stage on it fails
// with ErrInvalidConfiguration.
func WithMetrics(r metrics.Registry) Option {
	return func(s *settings) {
		s.registry = r
	}
}

// WithCoalescing controls whether concurrent cache misses share one
// upstream call. It is on by default.
func WithCoalescing(enabled bool) Option {
	return func(s *settings) {
		s.coalesce = enabled
	}
}

// WithSourceOptions forwards options to the URL source created by
// NewForURL and NewForDomain.
func WithSourceOptions(opts ...jwks.SourceOption) Option {
	return func(s *settings) {
		s.sourceOpts = append(s.sourceOpts, opts...)
	}
}
