package jwks

import "encoding/json"

// rawJWKS is a JSON Web Key Set whose keys are decoded one at a time.
type rawJWKS struct {
	Keys []json.RawMessage `json:"keys"`
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kid     string   `json:"kid,omitempty"`
	Kty     string   `json:"kty"`
	Alg     string   `json:"alg,omitempty"`
	Use     string   `json:"use,omitempty"`
	KeyOps  []string `json:"key_ops,omitempty"`
	X5u     string   `json:"x5u,omitempty"`
	X5c     []string `json:"x5c,omitempty"`
	X5t     string   `json:"x5t,omitempty"`
	X5tS256 string   `json:"x5t#S256,omitempty"`
	N       string   `json:"n,omitempty"`
	E       string   `json:"e,omitempty"`
	Crv     string   `json:"crv,omitempty"`
	X       string   `json:"x,omitempty"`
	Y       string   `json:"y,omitempty"`
	D       string   `json:"d,omitempty"`
	P       string   `json:"p,omitempty"`
	Q       string   `json:"q,omitempty"`
	Dp      string   `json:"dp,omitempty"`
	Dq      string   `json:"dq,omitempty"`
	Qi      string   `json:"qi,omitempty"`
	K       string   `json:"k,omitempty"`
}

// clone returns a deep copy so callers cannot mutate a cached key through it.
func (j JWK) clone() JWK {
	out := j
	if j.KeyOps != nil {
		out.KeyOps = append([]string(nil), j.KeyOps...)
	}
	if j.X5c != nil {
		out.X5c = append([]string(nil), j.X5c...)
	}
	return out
}
