// Package cache memoizes operation results in a shared expiring
// key-value store. Caching is a performance optimization only: a missing
// or unreachable backend degrades every call to direct invocation and
// never surfaces an error to the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTTL is the time-to-live applied when callers pass a zero TTL.
const DefaultTTL = 3600 * time.Second

// Backend is a shared expiring key-value store. Keys are UTF-8 strings
// and values JSON-serialized text. Per-key get/set must be atomic.
type Backend interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key for the given time-to-live.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Key builds a deterministic cache key from an operation name and its
// argument values. Identical arguments produce identical keys across
// process restarts.
func Key(op string, args ...any) string {
	parts := append([]any{op}, args...)
	b, err := json.Marshal(parts)
	if err != nil {
		// Unencodable arguments fall back to a non-colliding literal key.
		return fmt.Sprintf("%q:%v", op, args)
	}
	return string(b)
}

// Cached memoizes fn under key. On a hit the stored value is decoded and
// fn is never invoked; on a miss fn runs and its result is stored for
// ttl (DefaultTTL when zero). A nil backend or any backend error falls
// through to fn.
func Cached[T any](ctx context.Context, b Backend, key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if raw, ok, err := b.Get(ctx, key); err == nil && ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, nil
		}
		// Undecodable entry: treat as a miss and overwrite below.
	}

	v, err := fn()
	if err != nil {
		return zero, err
	}

	if raw, err := json.Marshal(v); err == nil {
		if err := b.Set(ctx, key, string(raw), ttl); err != nil {
			slog.Debug("cache set failed", "key", key, "error", err)
		}
	}
	return v, nil
}
