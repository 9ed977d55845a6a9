package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	IDPs    []IDPConfig   `yaml:"idps"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetPort returns the listen port with a default of 8080 if not set
func (c *ServerConfig) GetPort() int {
	if c.Port <= 0 {
		return 8080
	}
	return c.Port
}

// Addr returns host:port for the HTTP listener
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GetPort())
}

// IDPConfig describes one identity provider; exactly one of URL and Domain
// must be set, and Domain resolves to <domain>/.well-known/jwks.json
type IDPConfig struct {
	Name      string          `yaml:"name"`
	URL       string          `yaml:"url"`
	Domain    string          `yaml:"domain"`
	Timeout   time.Duration   `yaml:"timeout"`    // per request (default: 10s)
	UserAgent string          `yaml:"user_agent"` // optional User-Agent header
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// GetTimeout returns the request timeout with a default of 10 seconds if not set
func (c *IDPConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// Location returns whichever of URL or Domain is set, for display
func (c *IDPConfig) Location() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Domain
}

type CacheConfig struct {
	Enabled *bool         `yaml:"enabled"` // default: true
	Size    int           `yaml:"size"`    // maximum cached keys (default: 5)
	TTL     time.Duration `yaml:"ttl"`     // lifetime of a cached key (default: 10h)
}

// IsEnabled reports whether the cache stage is on, defaulting to true
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetSize returns the cache bound with a default of 5 if not set
func (c *CacheConfig) GetSize() int {
	if c.Size <= 0 {
		return 5
	}
	return c.Size
}

// GetTTL returns the entry lifetime with a default of 10 hours if not set
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTL <= 0 {
		return 10 * time.Hour
	}
	return c.TTL
}

type RateLimitConfig struct {
	Enabled        *bool         `yaml:"enabled"`         // default: true
	BucketSize     int           `yaml:"bucket_size"`     // burst capacity (default: 10)
	RefillRate     int           `yaml:"refill_rate"`     // tokens per interval (default: 10)
	RefillInterval time.Duration `yaml:"refill_interval"` // default: 1m
}

// IsEnabled reports whether the rate limit stage is on, defaulting to true
func (c *RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetBucketSize returns the bucket capacity with a default of 10 if not set
func (c *RateLimitConfig) GetBucketSize() int {
	if c.BucketSize <= 0 {
		return 10
	}
	return c.BucketSize
}

// GetRefillRate returns the tokens added per interval with a default of 10 if not set
func (c *RateLimitConfig) GetRefillRate() int {
	if c.RefillRate <= 0 {
		return 10
	}
	return c.RefillRate
}

// GetRefillInterval returns the refill interval with a default of one minute if not set
func (c *RateLimitConfig) GetRefillInterval() time.Duration {
	if c.RefillInterval <= 0 {
		return time.Minute
	}
	return c.RefillInterval
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the provider pipeline cannot be built from;
// zero values are allowed and fall back to the getter defaults
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.IDPs))

	for i, idp := range c.IDPs {
		where := fmt.Sprintf("idps[%d]", i)
		if idp.Name != "" {
			where = fmt.Sprintf("idp %q", idp.Name)
		}

		switch {
		case idp.Name == "":
			errs = append(errs, fmt.Errorf("%w: %s: name is required", ErrInvalid, where))
		case seen[idp.Name]:
			errs = append(errs, fmt.Errorf("%w: %s: duplicate name", ErrInvalid, where))
		}
		seen[idp.Name] = true

		if (idp.URL == "") == (idp.Domain == "") {
			errs = append(errs, fmt.Errorf("%w: %s: exactly one of url and domain must be set", ErrInvalid, where))
		}
		if idp.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%w: %s: timeout must not be negative", ErrInvalid, where))
		}
		if idp.Cache.Size < 0 || idp.Cache.TTL < 0 {
			errs = append(errs, fmt.Errorf("%w: %s: cache size and ttl must not be negative", ErrInvalid, where))
		}
		rl := idp.RateLimit
		if rl.BucketSize < 0 || rl.RefillRate < 0 || rl.RefillInterval < 0 {
			errs = append(errs, fmt.Errorf("%w: %s: rate limit values must not be negative", ErrInvalid, where))
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server port %d out of range", ErrInvalid, c.Server.Port))
	}

	return errors.Join(errs...)
}
