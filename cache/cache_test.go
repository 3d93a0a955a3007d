package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory Backend with real expiry for tests.
type memBackend struct {
	mu      sync.Mutex
	entries map[string]memEntry
	failing bool
}

type memEntry struct {
	value   string
	expires time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[string]memEntry)}
}

func (m *memBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", false, errors.New("backend unreachable")
	}
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *memBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("backend unreachable")
	}
	m.entries[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("plan", "fetch weather", 42)
	k2 := Key("plan", "fetch weather", 42)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, Key("plan", "other goal", 42))
	assert.NotEqual(t, k1, Key("generate", "fetch weather", 42))
}

func TestCached_HitSkipsInvocation(t *testing.T) {
	b := newMemBackend()
	ctx := context.Background()
	calls := 0
	fn := func() (string, error) {
		calls++
		return "result", nil
	}

	v1, err := Cached(ctx, b, Key("op", "a"), time.Minute, fn)
	require.NoError(t, err)
	v2, err := Cached(ctx, b, Key("op", "a"), time.Minute, fn)
	require.NoError(t, err)

	assert.Equal(t, "result", v1)
	assert.Equal(t, "result", v2)
	assert.Equal(t, 1, calls, "second identical call must be served from cache")
}

func TestCached_DistinctArgsMiss(t *testing.T) {
	b := newMemBackend()
	ctx := context.Background()
	calls := 0
	fn := func() (int, error) {
		calls++
		return calls, nil
	}

	_, err := Cached(ctx, b, Key("op", "a"), time.Minute, fn)
	require.NoError(t, err)
	_, err = Cached(ctx, b, Key("op", "b"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCached_ExpiryReinvokes(t *testing.T) {
	b := newMemBackend()
	ctx := context.Background()
	calls := 0
	fn := func() (string, error) {
		calls++
		return "v", nil
	}

	_, err := Cached(ctx, b, Key("op"), 10*time.Millisecond, fn)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = Cached(ctx, b, Key("op"), 10*time.Millisecond, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "call after TTL expiry must invoke the operation again")
}

func TestCached_NilBackendDegrades(t *testing.T) {
	calls := 0
	v, err := Cached(context.Background(), nil, Key("op"), time.Minute, func() (string, error) {
		calls++
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
	assert.Equal(t, 1, calls)
}

func TestCached_UnreachableBackendDegrades(t *testing.T) {
	b := newMemBackend()
	b.failing = true
	calls := 0
	fn := func() (string, error) {
		calls++
		return "direct", nil
	}

	for i := 0; i < 3; i++ {
		v, err := Cached(context.Background(), b, Key("op"), time.Minute, fn)
		require.NoError(t, err, "backend failures must never surface")
		assert.Equal(t, "direct", v)
	}
	assert.Equal(t, 3, calls, "every call must invoke the operation when the store is down")
}

func TestCached_ErrorNotCached(t *testing.T) {
	b := newMemBackend()
	boom := errors.New("boom")
	calls := 0
	fn := func() (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, err := Cached(context.Background(), b, Key("op"), time.Minute, fn)
	assert.ErrorIs(t, err, boom)

	v, err := Cached(context.Background(), b, Key("op"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestCached_StructValues(t *testing.T) {
	type plan struct {
		Tasks []string `json:"tasks"`
	}
	b := newMemBackend()
	calls := 0
	fn := func() (plan, error) {
		calls++
		return plan{Tasks: []string{"a", "b"}}, nil
	}

	_, err := Cached(context.Background(), b, Key("plan"), time.Minute, fn)
	require.NoError(t, err)
	got, err := Cached(context.Background(), b, Key("plan"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Tasks)
	assert.Equal(t, 1, calls)
}
