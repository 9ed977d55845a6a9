package jwks

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	// ErrSourceUnavailable is returned when the key set cannot be retrieved:
	// transport failures, timeouts and non-200 responses.
	ErrSourceUnavailable = errors.New("key source unavailable")
	// ErrSourceMalformed is returned when the retrieved document is not a key set.
	ErrSourceMalformed = errors.New("malformed key set")
	// ErrUnsupportedKey is returned by Key.PublicKey when the key material
	// cannot be turned into a public key.
	ErrUnsupportedKey = errors.New("unsupported key")
)

// Key is a single signing key resolved from a key set. It is immutable once
// parsed; accessors return copies.
type Key struct {
	jwk JWK

	// web is nil when go-jose could not decode the key material; webErr says why.
	web    *jose.JSONWebKey
	webErr error
}

// ParseKey decodes one JWK object. Keys whose type go-jose does not support
// are still returned so they can be looked up by kid; only PublicKey fails.
func ParseKey(raw []byte) (*Key, error) {
	var jwk JWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceMalformed, err)
	}
	if jwk.Kty == "" {
		return nil, fmt.Errorf("%w: key %q has no kty", ErrSourceMalformed, jwk.Kid)
	}

	k := &Key{jwk: jwk}

	var web jose.JSONWebKey
	if err := web.UnmarshalJSON(raw); err != nil {
		k.webErr = err
	} else {
		k.web = &web
	}

	return k, nil
}

// ParseKeySet decodes a JWKS document, keeping the order of its keys.
func ParseKeySet(body []byte) ([]*Key, error) {
	var set rawJWKS
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceMalformed, err)
	}
	if set.Keys == nil {
		return nil, fmt.Errorf("%w: document has no keys member", ErrSourceMalformed)
	}

	keys := make([]*Key, 0, len(set.Keys))
	for i, raw := range set.Keys {
		k, err := ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, k)
	}

	return keys, nil
}

// ID returns the key identifier (kid).
func (k *Key) ID() string { return k.jwk.Kid }

// Type returns the key type (kty), e.g. RSA or EC.
func (k *Key) Type() string { return k.jwk.Kty }

// Algorithm returns the intended algorithm (alg), if published.
func (k *Key) Algorithm() string { return k.jwk.Alg }

// Use returns the intended use (use), usually "sig".
func (k *Key) Use() string { return k.jwk.Use }

// Operations returns the permitted key operations (key_ops).
func (k *Key) Operations() []string {
	if k.jwk.KeyOps == nil {
		return nil
	}
	return append([]string(nil), k.jwk.KeyOps...)
}

// CertificateURL returns the x5u member.
func (k *Key) CertificateURL() string { return k.jwk.X5u }

// CertificateThumbprint returns the x5t member.
func (k *Key) CertificateThumbprint() string { return k.jwk.X5t }

// CertificateChain returns the parsed x5c chain, leaf first.
func (k *Key) CertificateChain() []*x509.Certificate {
	if k.web == nil || len(k.web.Certificates) == 0 {
		return nil
	}
	return append([]*x509.Certificate(nil), k.web.Certificates...)
}

// JWK returns the wire attributes as published.
func (k *Key) JWK() JWK {
	return k.jwk.clone()
}

// PublicKey returns the public part of the key, e.g. *rsa.PublicKey,
// *ecdsa.PublicKey or ed25519.PublicKey.
func (k *Key) PublicKey() (crypto.PublicKey, error) {
	if k.web == nil {
		return nil, fmt.Errorf("%w: kid %q (kty %s): %v", ErrUnsupportedKey, k.jwk.Kid, k.jwk.Kty, k.webErr)
	}
	if _, symmetric := k.web.Key.([]byte); symmetric {
		return nil, fmt.Errorf("%w: kid %q is a symmetric key", ErrUnsupportedKey, k.jwk.Kid)
	}
	if k.web.IsPublic() {
		return k.web.Key, nil
	}

	pub := k.web.Public()
	if !pub.Valid() {
		return nil, fmt.Errorf("%w: kid %q has no usable public part", ErrUnsupportedKey, k.jwk.Kid)
	}
	return pub.Key, nil
}

// String implements fmt.Stringer.
func (k *Key) String() string {
	return fmt.Sprintf("jwk{kid=%s kty=%s alg=%s}", k.jwk.Kid, k.jwk.Kty, k.jwk.Alg)
}
