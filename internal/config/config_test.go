package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiquetal/go-jwk-provider/internal/config"
)

const sample = `
server:
  host: 127.0.0.1
  port: 9090
logging:
  level: debug
  format: json
idps:
  - name: auth0
    domain: samples.auth0.com
  - name: keycloak
    url: https://sso.example.com/realms/main/protocol/openid-connect/certs
    timeout: 3s
    user_agent: jwk-provider/1.0
    cache:
      size: 20
      ttl: 30m
    rate_limit:
      bucket_size: 5
      refill_rate: 1
      refill_interval: 10s
  - name: internal
    url: http://localhost:8081/jwks.json
    cache:
      enabled: false
    rate_limit:
      enabled: false
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.IDPs, 3)

	auth0 := cfg.IDPs[0]
	assert.Equal(t, "samples.auth0.com", auth0.Location())
	assert.Equal(t, 10*time.Second, auth0.GetTimeout())
	assert.True(t, auth0.Cache.IsEnabled())
	assert.Equal(t, 5, auth0.Cache.GetSize())
	assert.Equal(t, 10*time.Hour, auth0.Cache.GetTTL())
	assert.True(t, auth0.RateLimit.IsEnabled())
	assert.Equal(t, 10, auth0.RateLimit.GetBucketSize())
	assert.Equal(t, 10, auth0.RateLimit.GetRefillRate())
	assert.Equal(t, time.Minute, auth0.RateLimit.GetRefillInterval())

	kc := cfg.IDPs[1]
	assert.Equal(t, 3*time.Second, kc.GetTimeout())
	assert.Equal(t, "jwk-provider/1.0", kc.UserAgent)
	assert.Equal(t, 20, kc.Cache.GetSize())
	assert.Equal(t, 30*time.Minute, kc.Cache.GetTTL())
	assert.Equal(t, 5, kc.RateLimit.GetBucketSize())
	assert.Equal(t, 1, kc.RateLimit.GetRefillRate())
	assert.Equal(t, 10*time.Second, kc.RateLimit.GetRefillInterval())

	internal := cfg.IDPs[2]
	assert.False(t, internal.Cache.IsEnabled())
	assert.False(t, internal.RateLimit.IsEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing name":       "idps:\n  - url: https://a.example.com/jwks\n",
		"duplicate name":     "idps:\n  - name: a\n    domain: a.example.com\n  - name: a\n    domain: b.example.com\n",
		"no location":        "idps:\n  - name: a\n",
		"both locations":     "idps:\n  - name: a\n    url: https://a.example.com/jwks\n    domain: a.example.com\n",
		"negative cache ttl": "idps:\n  - name: a\n    domain: a.example.com\n    cache:\n      ttl: -1s\n",
		"negative bucket":    "idps:\n  - name: a\n    domain: a.example.com\n    rate_limit:\n      bucket_size: -1\n",
		"negative timeout":   "idps:\n  - name: a\n    domain: a.example.com\n    timeout: -5s\n",
		"port out of range":  "server:\n  port: 70000\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Parse([]byte(doc))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}

	t.Run("bad duration", func(t *testing.T) {
		t.Parallel()
		_, err := config.Parse([]byte("idps:\n  - name: a\n    domain: a.example.com\n    timeout: soon\n"))
		assert.Error(t, err)
	})
}

func TestServerConfig_DefaultPort(t *testing.T) {
	t.Parallel()

	var c config.ServerConfig
	assert.Equal(t, 8080, c.GetPort())
	assert.Equal(t, ":8080", c.Addr())
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := config.NewLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "idp", "auth0")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"idp":"auth0"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, config.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, config.ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, config.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, config.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, config.ParseLevel("verbose"))
}
