package provider

import (
	"fmt"

	"github.com/kiquetal/go-jwk-provider/internal/jwks"
	"github.com/kiquetal/go-jwk-provider/internal/ratelimit"
)

// New assembles the pipeline cache -> rate limit -> source. With no options
// both optional stages are on with the package defaults.
func New(source jwks.KeySource, opts ...Option) (KeyProvider, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil key source", ErrInvalidConfiguration)
	}
	return build(source, newSettings(opts))
}

// NewForURL builds a pipeline reading the JWKS document at url.
func NewForURL(url string, opts ...Option) (KeyProvider, error) {
	s := newSettings(opts)
	src, err := jwks.NewURLSource(url, s.urlSourceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return build(src, s)
}

// NewForDomain builds a pipeline reading the well-known JWKS document of an
// IdP domain, e.g. "samples.auth0.com".
func NewForDomain(domain string, opts ...Option) (KeyProvider, error) {
	s := newSettings(opts)
	src, err := jwks.NewDomainSource(domain, s.urlSourceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return build(src, s)
}

func build(source jwks.KeySource, s *settings) (KeyProvider, error) {
	var p KeyProvider = newSourceProvider(source, s)

	if s.rateLimited {
		rl, err := newRateLimited(p, ratelimit.Config{
			Capacity:       s.bucketSize,
			RefillRate:     s.refillRate,
			RefillInterval: s.refillInterval,
		}, s)
		if err != nil {
			return nil, err
		}
		p = rl
	}

	if s.cached {
		c, err := newCached(p, s.cacheSize, s.cacheTTL, s)
		if err != nil {
			return nil, err
		}
		p = c
	}

	return p, nil
}

func (s *settings) urlSourceOptions() []jwks.SourceOption {
	opts := make([]jwks.SourceOption, 0, len(s.sourceOpts)+1)
	opts = append(opts, jwks.WithSourceLogger(s.logger))
	return append(opts, s.sourceOpts...)
}
