package provider

import (
	"fmt"
	"log/slog"

	"github.com/rcrowley/go-metrics"

	"github.com/kiquetal/go-jwk-provider/internal/config"
	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

// OptionsFromConfig translates one IdP entry into pipeline options.
func OptionsFromConfig(idp config.IDPConfig) []Option {
	var opts []Option

	if idp.Cache.IsEnabled() {
		opts = append(opts, WithCache(idp.Cache.GetSize(), idp.Cache.GetTTL()))
	} else {
		opts = append(opts, WithoutCache())
	}

	rl := idp.RateLimit
	if rl.IsEnabled() {
		opts = append(opts, WithRateLimit(rl.GetBucketSize(), rl.GetRefillRate(), rl.GetRefillInterval()))
	} else {
		opts = append(opts, WithoutRateLimit())
	}

	sourceOpts := []jwks.SourceOption{jwks.WithTimeout(idp.GetTimeout())}
	if idp.UserAgent != "" {
		sourceOpts = append(sourceOpts, jwks.WithUserAgent(idp.UserAgent))
	}
	opts = append(opts, WithSourceOptions(sourceOpts...))

	return opts
}

// NewFromConfig builds the pipeline for one IdP entry. The returned registry
// holds the pipeline's metrics.
func NewFromConfig(idp config.IDPConfig, logger *slog.Logger, extra ...Option) (KeyProvider, metrics.Registry, error) {
	registry := metrics.NewRegistry()

	opts := OptionsFromConfig(idp)
	opts = append(opts, WithMetrics(registry))
	if logger != nil {
		opts = append(opts, WithLogger(logger.With("idp", idp.Name)))
	}
	opts = append(opts, extra...)

	var (
		p   KeyProvider
		err error
	)
	if idp.URL != "" {
		p, err = NewForURL(idp.URL, opts...)
	} else {
		p, err = NewForDomain(idp.Domain, opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("idp %q: %w", idp.Name, err)
	}
	return p, registry, nil
}

// NewManagerFromConfig registers a pipeline for every configured IdP.
func NewManagerFromConfig(cfg *config.Config, logger *slog.Logger, extra ...Option) (*Manager, error) {
	m := NewManager(logger)
	for _, idp := range cfg.IDPs {
		p, registry, err := NewFromConfig(idp, logger, extra...)
		if err != nil {
			return nil, err
		}
		if err := m.Register(idp.Name, idp.Location(), p, registry); err != nil {
			return nil, err
		}
	}
	return m, nil
}
