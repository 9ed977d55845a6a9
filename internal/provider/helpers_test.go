package provider_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/kiquetal/go-jwk-provider/internal/clock"
	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

var errUpstream = errors.New("upstream exploded")

func epoch() *clock.Fake {
	return clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

// key builds a lookup-only key; alg tells duplicates apart.
func key(t *testing.T, kid, alg string) *jwks.Key {
	t.Helper()
	k, err := jwks.ParseKey([]byte(fmt.Sprintf(`{"kty":"oct","kid":%q,"alg":%q,"k":"c2VjcmV0"}`, kid, alg)))
	require.NoError(t, err)
	return k
}

func keys(t *testing.T, kids ...string) []*jwks.Key {
	t.Helper()
	out := make([]*jwks.Key, 0, len(kids))
	for _, kid := range kids {
		out = append(out, key(t, kid, "HS256"))
	}
	return out
}

// fakeSource serves a fixed key set or a queued error and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	keys  []*jwks.Key
	errs  []error
	calls atomic.Int32

	// gate, when set, blocks every fetch until it is closed.
	gate chan struct{}
}

func newFakeSource(keys []*jwks.Key) *fakeSource {
	return &fakeSource{keys: keys}
}

func (s *fakeSource) FetchAll(ctx context.Context) ([]*jwks.Key, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.keys, nil
}

func (s *fakeSource) failNext(errs ...error) {
	s.mu.Lock()
	s.errs = append(s.errs, errs...)
	s.mu.Unlock()
}

func (s *fakeSource) count() int {
	return int(s.calls.Load())
}

// singleKeyProvider is a KeyProvider that cannot list its set.
type singleKeyProvider struct {
	keys  map[string]*jwks.Key
	calls atomic.Int32
}

func (p *singleKeyProvider) GetKey(_ context.Context, kid string) (*jwks.Key, error) {
	p.calls.Add(1)
	k, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no %s: %w", kid, errUpstream)
	}
	return k, nil
}

func rsaJWK(t *testing.T, kid string) (json.RawMessage, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	raw, err := json.Marshal(jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	require.NoError(t, err)
	return raw, priv
}

func keySetJSON(t *testing.T, keys ...json.RawMessage) []byte {
	t.Helper()
	body, err := json.Marshal(map[string][]json.RawMessage{"keys": keys})
	require.NoError(t, err)
	return body
}

type keyProviderFunc func(ctx context.Context, kid string) (*jwks.Key, error)

func (f keyProviderFunc) GetKey(ctx context.Context, kid string) (*jwks.Key, error) {
	return f(ctx, kid)
}
