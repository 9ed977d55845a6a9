package provider

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Keyfunc adapts p for jwt.Parse: the token's kid header selects the key and
// its public part verifies the signature.
func Keyfunc(p KeyProvider) jwt.Keyfunc {
	return KeyfuncContext(context.Background(), p)
}

// KeyfuncContext is Keyfunc with a context for the key lookup.
func KeyfuncContext(ctx context.Context, p KeyProvider) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kidVal, ok := token.Header["kid"]
		if !ok {
			return nil, fmt.Errorf("%w: token header has no kid", ErrKeyNotFound)
		}
		kid, ok := kidVal.(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: token kid is not a non-empty string", ErrKeyNotFound)
		}

		key, err := p.GetKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.PublicKey()
	}
}
