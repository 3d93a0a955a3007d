// Package retry wraps fallible operations with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxAttempts is the total number of invocations before giving up.
	MaxAttempts = 3

	defaultInitialInterval = 2 * time.Second
	defaultMaxInterval     = 10 * time.Second
	defaultMultiplier      = 2.0
)

// DefaultBackOff returns the standard policy: 3 attempts with delays
// starting at 2s, doubling, capped at 10s.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxInterval = defaultMaxInterval
	b.Multiplier = defaultMultiplier
	b.RandomizationFactor = 0
	// The constructor froze the current interval at its own default;
	// apply the configured intervals before first use.
	b.Reset()
	return backoff.WithMaxRetries(b, MaxAttempts-1)
}

// Do invokes op under the default policy, returning its result on the
// first success. After the final attempt fails, the last error is
// returned unchanged. Callers must ensure op is safe to repeat.
func Do[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return DoWithBackOff(ctx, DefaultBackOff(), op)
}

// DoWithBackOff is Do with an explicit backoff policy. Context
// cancellation interrupts the wait between attempts.
func DoWithBackOff[T any](ctx context.Context, b backoff.BackOff, op func() (T, error)) (T, error) {
	var result T
	err := backoff.Retry(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, backoff.WithContext(b, ctx))
	return result, err
}
