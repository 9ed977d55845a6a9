// Package provider resolves signing keys by kid through a pipeline of
// stages: a source that reads the whole key set, an optional rate limit in
// front of it and an optional expiring cache in front of that.
//
// Every stage is a KeyProvider, so stages compose freely. Errors from inner
// stages are returned unchanged.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcrowley/go-metrics"

	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

// KeyProvider resolves one key by kid.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (*jwks.Key, error)
}

// SetProvider can also return the complete key set in one call.
type SetProvider interface {
	KeyProvider
	GetKeys(ctx context.Context) ([]*jwks.Key, error)
}

// setCapable is implemented by decorators whose set support depends on the
// provider they wrap.
type setCapable interface {
	SupportsKeySet() bool
}

// asSetProvider reports whether p can list its whole key set.
func asSetProvider(p KeyProvider) (SetProvider, bool) {
	sp, ok := p.(SetProvider)
	if !ok {
		return nil, false
	}
	if c, ok := p.(setCapable); ok && !c.SupportsKeySet() {
		return nil, false
	}
	return sp, true
}

// findKey returns the first key in keys with the given kid.
func findKey(keys []*jwks.Key, kid string) (*jwks.Key, bool) {
	for _, k := range keys {
		if k.ID() == kid {
			return k, true
		}
	}
	return nil, false
}

// SourceProvider is the base stage. Every call reads the key set from its
// source; nothing is retained between calls.
type SourceProvider struct {
	source jwks.KeySource
	logger *slog.Logger

	fetches  metrics.Counter
	failures metrics.Counter
}

// NewSourceProvider creates the base stage over source.
func NewSourceProvider(source jwks.KeySource, opts ...Option) *SourceProvider {
	s := newSettings(opts)
	return newSourceProvider(source, s)
}

func newSourceProvider(source jwks.KeySource, s *settings) *SourceProvider {
	return &SourceProvider{
		source:   source,
		logger:   s.logger,
		fetches:  counter(s.registry, MetricSourceFetches),
		failures: counter(s.registry, MetricSourceFailures),
	}
}

// GetKeys returns every key published by the source, in source order.
func (p *SourceProvider) GetKeys(ctx context.Context) ([]*jwks.Key, error) {
	p.fetches.Inc(1)
	keys, err := p.source.FetchAll(ctx)
	if err != nil {
		p.failures.Inc(1)
		p.logger.Warn("Key source failed", "error", err)
		return nil, err
	}
	return keys, nil
}

// GetKey fetches the key set and returns the first key with the given kid.
func (p *SourceProvider) GetKey(ctx context.Context, kid string) (*jwks.Key, error) {
	keys, err := p.GetKeys(ctx)
	if err != nil {
		return nil, err
	}
	k, ok := findKey(keys, kid)
	if !ok {
		p.logger.Debug("Key not in set", "kid", kid, "key_count", len(keys))
		return nil, errKeyNotFound(kid)
	}
	return k, nil
}

func errKeyNotFound(kid string) error {
	return fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}
