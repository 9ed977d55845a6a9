package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration is returned by constructors given out-of-range parameters.
	ErrInvalidConfiguration = errors.New("invalid provider configuration")
	// ErrRateLimitExceeded is matched by every *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrKeyNotFound is returned when the key set has no key with the requested kid.
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnknownIDP is returned by Manager for names that were never registered.
	ErrUnknownIDP = errors.New("unknown idp")
)

// RateLimitError reports a call rejected by a RateLimited stage.
type RateLimitError struct {
	// RetryAfter is how long until the bucket will admit another call.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimitExceeded, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
