package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds a single key-set request.
	DefaultTimeout = 10 * time.Second

	maxBodySize = 1 << 20
)

// ErrInvalidURL is returned for key-set locations that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid key set url")

// KeySource retrieves the complete key set from its origin.
type KeySource interface {
	// FetchAll returns every key in the set, in the order published. It fails
	// with ErrSourceUnavailable or ErrSourceMalformed.
	FetchAll(ctx context.Context) ([]*Key, error)
}

// SourceFunc adapts an ordinary function to a KeySource.
type SourceFunc func(ctx context.Context) ([]*Key, error)

// FetchAll calls f(ctx).
func (f SourceFunc) FetchAll(ctx context.Context) ([]*Key, error) {
	return f(ctx)
}

// URLSource fetches a JWKS document over HTTP.
type URLSource struct {
	url    string
	client *resty.Client
	logger *slog.Logger

	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
}

// SourceOption configures a URLSource.
type SourceOption func(*URLSource)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) SourceOption {
	return func(s *URLSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient sets the underlying HTTP client (transport, proxies, TLS).
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *URLSource) {
		s.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent to the IdP.
func WithUserAgent(ua string) SourceOption {
	return func(s *URLSource) {
		s.userAgent = ua
	}
}

// WithSourceLogger sets the logger for fetch diagnostics.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *URLSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewURLSource creates a KeySource reading the JWKS document at rawURL.
func NewURLSource(rawURL string, opts ...SourceOption) (*URLSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, rawURL)
	}

	s := &URLSource{
		url:     u.String(),
		logger:  slog.New(slog.DiscardHandler),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.httpClient != nil {
		s.client = resty.NewWithClient(s.httpClient)
	} else {
		s.client = resty.New()
	}
	s.client.
		SetTimeout(s.timeout).
		SetHeader("Accept", "application/json")
	if s.userAgent != "" {
		s.client.SetHeader("User-Agent", s.userAgent)
	}

	return s, nil
}

// NewDomainSource creates a KeySource for the well-known JWKS location of domain.
func NewDomainSource(domain string, opts ...SourceOption) (*URLSource, error) {
	u, err := URLForDomain(domain)
	if err != nil {
		return nil, err
	}
	return NewURLSource(u, opts...)
}

// URL returns the key-set location.
func (s *URLSource) URL() string {
	return s.url
}

// FetchAll retrieves and parses the key set.
func (s *URLSource) FetchAll(ctx context.Context) ([]*Key, error) {
	start := time.Now()
	s.logger.Debug("Fetching JWKS", "url", s.url)

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(s.url)
	if err != nil {
		s.logger.Warn("Failed to fetch JWKS", "url", s.url, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		s.logger.Warn("Unexpected JWKS status",
			"url", s.url,
			"status", resp.StatusCode(),
		)
		return nil, fmt.Errorf("%w: unexpected status code %d: %s",
			ErrSourceUnavailable, resp.StatusCode(), strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrSourceUnavailable, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrSourceMalformed, maxBodySize)
	}

	keys, err := ParseKeySet(data)
	if err != nil {
		s.logger.Warn("Failed to parse JWKS", "url", s.url, "error", err)
		return nil, err
	}

	s.logger.Debug("Fetched JWKS",
		"url", s.url,
		"key_count", len(keys),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return keys, nil
}

// URLForDomain turns an IdP domain such as "samples.auth0.com" into its
// JWKS location. A missing scheme defaults to https.
func URLForDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidURL)
	}
	if !strings.HasPrefix(domain, "http") {
		domain = "https://" + domain
	}

	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, domain)
	}

	return u.JoinPath(".well-known", "jwks.json").String(), nil
}
