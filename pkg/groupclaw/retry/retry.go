// Package retry provides the bounded retry policy shared by operations that
// may fail transiently, such as launching the browser. It wraps
// cenkalti/backoff so call sites only declare attempts and intervals.
package retry

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first (default: 3).
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// InitialInterval is the wait before the second attempt (default: 2s).
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the exponential growth of the wait (default: 10s).
	MaxInterval time.Duration `yaml:"max_interval"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// normalized fills zero fields with defaults.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. op receives the 1-based attempt number.
// The last error from op is returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	p = p.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	bounded := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		return op(attempt)
	}, bounded)
}

// Permanent marks err so that Do stops retrying and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
