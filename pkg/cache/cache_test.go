// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg Config) *ResponseCache[string] {
	t.Helper()
	c, err := New[string](cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIsStructured(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{`{"type": "assets"}`, true},
		{"   {\n}", true},
		{"query { transactions { id } }", true},
		{"  mutation Create($x: Int) { x }", true},
		{"subscription OnTx { tx }", true},
		{"queryAll", false},
		{"What queries and mutations are available?", false},
		{"Summarize the report", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStructured(tt.query))
		})
	}
}

func TestKey(t *testing.T) {
	a, err := Key("query {  x }", map[string]any{"b": 1, "a": "y"})
	require.NoError(t, err)
	b, err := Key("  query { x }\n", map[string]any{"a": "y", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := Key("query { x }", map[string]any{"a": "z"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = Key("query { x }", map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestGet_CachesStructuredQueries(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "result", nil
	}

	v, cached, err := c.Get(context.Background(), "query { x }", nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "result", v)
	assert.False(t, cached)

	v, cached, err = c.Get(context.Background(), "query   { x }", nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "result", v)
	assert.True(t, cached)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestGet_FreeTextBypasses(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	}

	for range 3 {
		_, cached, err := c.Get(context.Background(), "what is the revenue?", nil, fn)
		require.NoError(t, err)
		assert.False(t, cached)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), c.Stats().Bypass)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestGet_ConcurrentDedup(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = c.Get(context.Background(), `{"q": 1}`, nil, fn)
		}()
	}

	// Let every caller join the flight before releasing it.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(n-1), stats.Dedups+stats.Hits)
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int32
	boom := errors.New("boom")

	_, _, err := c.Get(context.Background(), "query { x }", nil, func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	v, cached, err := c.Get(context.Background(), "query { x }", nil, func(context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_WaiterCancellationDoesNotCancelFlight(t *testing.T) {
	c := newTestCache(t, Config{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	fn := func(ctx context.Context) (string, error) {
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Get(ctx, "query { slow }", nil, fn)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return c.Stats().Entries == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, sawCancel.Load())

	v, cached, err := c.Get(context.Background(), "query { slow }", nil, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "done", v)
}

func TestTTLAndSweep(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, SweepInterval: time.Hour})
	now := time.Now()
	c.now = func() time.Time { return now }

	fn := func(context.Context) (string, error) { return "v", nil }
	_, _, err := c.Get(context.Background(), "query { a }", nil, fn)
	require.NoError(t, err)
	_, _, err = c.Get(context.Background(), "query { b }", nil, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Stats().Entries)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 0, c.Stats().Entries)

	_, cached, err := c.Get(context.Background(), "query { a }", nil, fn)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestExpiredEntryIsRecomputed(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, SweepInterval: time.Hour})
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}
	_, _, _ = c.Get(context.Background(), "query { a }", nil, fn)
	now = now.Add(time.Minute)
	_, cached, err := c.Get(context.Background(), "query { a }", nil, fn)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLRUBound(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 2})
	fn := func(context.Context) (string, error) { return "v", nil }
	for _, q := range []string{"query { a }", "query { b }", "query { c }"} {
		_, _, err := c.Get(context.Background(), q, nil, fn)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestInvalidateAndPurge(t *testing.T) {
	c := newTestCache(t, Config{})
	fn := func(context.Context) (string, error) { return "v", nil }
	_, _, _ = c.Get(context.Background(), "query { a }", map[string]any{"k": 1}, fn)
	_, _, _ = c.Get(context.Background(), "query { b }", nil, fn)

	require.NoError(t, c.Invalidate("query { a }", map[string]any{"k": 1}))
	assert.Equal(t, 1, c.Stats().Entries)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := New[string](Config{SweepInterval: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
