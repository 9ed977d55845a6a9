package jwks_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

func TestURLSource_FetchAll(t *testing.T) {
	t.Parallel()

	t.Run("fetches and parses key set", func(t *testing.T) {
		t.Parallel()
		a, _ := rsaJWK(t, "a")
		b, _ := ecJWK(t, "b")
		body := keySetJSON(t, a, b)

		var (
			hits      atomic.Int32
			accept    atomic.Value
			userAgent atomic.Value
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			accept.Store(r.Header.Get("Accept"))
			userAgent.Store(r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		}))
		t.Cleanup(srv.Close)

		src, err := jwks.NewURLSource(srv.URL+"/.well-known/jwks.json", jwks.WithUserAgent("jwk-provider-test"))
		require.NoError(t, err)

		keys, err := src.FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "a", keys[0].ID())
		assert.Equal(t, "b", keys[1].ID())
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "application/json", accept.Load())
		assert.Equal(t, "jwk-provider-test", userAgent.Load())
	})

	t.Run("non 200 status is unavailable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream broken", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		src, err := jwks.NewURLSource(srv.URL)
		require.NoError(t, err)

		_, err = src.FetchAll(context.Background())
		require.ErrorIs(t, err, jwks.ErrSourceUnavailable)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "upstream broken")
	})

	t.Run("invalid body is malformed", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"keys": "oops"}`))
		}))
		t.Cleanup(srv.Close)

		src, err := jwks.NewURLSource(srv.URL)
		require.NoError(t, err)

		_, err = src.FetchAll(context.Background())
		assert.ErrorIs(t, err, jwks.ErrSourceMalformed)
	})

	t.Run("oversized body is malformed", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"keys":[],"pad":"`))
			_, _ = w.Write([]byte(strings.Repeat("x", 2<<20)))
			_, _ = w.Write([]byte(`"}`))
		}))
		t.Cleanup(srv.Close)

		src, err := jwks.NewURLSource(srv.URL)
		require.NoError(t, err)

		_, err = src.FetchAll(context.Background())
		assert.ErrorIs(t, err, jwks.ErrSourceMalformed)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(func() {
			close(release)
			srv.Close()
		})

		src, err := jwks.NewURLSource(srv.URL, jwks.WithTimeout(50*time.Millisecond))
		require.NoError(t, err)

		_, err = src.FetchAll(context.Background())
		assert.ErrorIs(t, err, jwks.ErrSourceUnavailable)
	})

	t.Run("connection refused is unavailable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		src, err := jwks.NewURLSource(addr, jwks.WithTimeout(time.Second))
		require.NoError(t, err)

		_, err = src.FetchAll(context.Background())
		assert.ErrorIs(t, err, jwks.ErrSourceUnavailable)
	})

	t.Run("uses supplied http client", func(t *testing.T) {
		t.Parallel()
		a, _ := rsaJWK(t, "a")
		body := keySetJSON(t, a)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(body)
		}))
		t.Cleanup(srv.Close)

		src, err := jwks.NewURLSource(srv.URL, jwks.WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		keys, err := src.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}

func TestNewURLSource_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "ftp://example.com/jwks", "/relative/path", "https://"} {
		_, err := jwks.NewURLSource(raw)
		assert.ErrorIs(t, err, jwks.ErrInvalidURL, raw)
	}
}

func TestURLForDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		domain string
		want   string
	}{
		{"samples.auth0.com", "https://samples.auth0.com/.well-known/jwks.json"},
		{"https://samples.auth0.com", "https://samples.auth0.com/.well-known/jwks.json"},
		{"https://samples.auth0.com/", "https://samples.auth0.com/.well-known/jwks.json"},
		{"http://localhost:8080", "http://localhost:8080/.well-known/jwks.json"},
		{"https://sso.example.com/realms/main", "https://sso.example.com/realms/main/.well-known/jwks.json"},
		{"  tenant.example.org  ", "https://tenant.example.org/.well-known/jwks.json"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			t.Parallel()
			got, err := jwks.URLForDomain(tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := jwks.URLForDomain("   ")
	assert.ErrorIs(t, err, jwks.ErrInvalidURL)
}

func TestNewDomainSource(t *testing.T) {
	t.Parallel()

	src, err := jwks.NewDomainSource("samples.auth0.com")
	require.NoError(t, err)
	assert.Equal(t, "https://samples.auth0.com/.well-known/jwks.json", src.URL())
}

func TestSourceFunc(t *testing.T) {
	t.Parallel()

	called := false
	var src jwks.KeySource = jwks.SourceFunc(func(ctx context.Context) ([]*jwks.Key, error) {
		called = true
		return nil, jwks.ErrSourceUnavailable
	})

	_, err := src.FetchAll(context.Background())
	assert.True(t, called)
	assert.ErrorIs(t, err, jwks.ErrSourceUnavailable)
}
