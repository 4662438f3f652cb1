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

// Package cache deduplicates and caches responses to structured queries.
//
// Structured queries (JSON objects and GraphQL operations) are cached by
// a hash of the normalized query and its options, and identical requests
// in flight share one execution. Free-text questions always run fresh.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/docqa/pkg/observability"
)

// Outcomes reported to metrics.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeDedup  = "dedup"
	OutcomeBypass = "bypass"
)

// Defaults.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = time.Minute
)

var structuredPattern = regexp.MustCompile(`^\s*(?:\{|(?:query|mutation|subscription)\b)`)

// IsStructured reports whether query is cacheable.
func IsStructured(query string) bool {
	return structuredPattern.MatchString(query)
}

// NormalizeQuery collapses whitespace runs and trims the ends.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// Key returns the cache key of query and options: the hex SHA-256 of
// their JSON encoding. Map keys are encoded sorted, so equal options give
// equal keys.
func Key(query string, options any) (string, error) {
	data, err := json.Marshal(struct {
		Query   string `json:"query"`
		Options any    `json:"options,omitempty"`
	}{Query: NormalizeQuery(query), Options: options})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Stats are the cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Dedups  int64 `json:"dedups"`
	Bypass  int64 `json:"bypass"`
	Entries int   `json:"entries"`
}

// Config configures a ResponseCache.
type Config struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
	Metrics       observability.Metrics
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// ResponseCache caches values of type V.
type ResponseCache[V any] struct {
	ttl     time.Duration
	entries *lru.Cache
	group   singleflight.Group
	metrics observability.Metrics
	now     func() time.Time

	hits, misses, dedups, bypass atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its janitor. Call Close to stop it.
func New[V any](cfg Config) (*ResponseCache[V], error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}

	entries, err := lru.New(cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	c := &ResponseCache[V]{
		ttl:     cfg.TTL,
		entries: entries,
		metrics: cfg.Metrics,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.janitor(cfg.SweepInterval)
	return c, nil
}

// Get returns the value for query and options, computing it with fn when
// needed. Free-text queries always call fn. Concurrent callers with the
// same key share one call of fn, which runs detached from any single
// caller's cancellation; each caller still returns as soon as its own ctx
// is done. Errors are never cached.
//
// cached reports whether the value was served without this caller's own
// execution: from a stored entry or from a concurrent caller's flight.
func (c *ResponseCache[V]) Get(ctx context.Context, query string, options any, fn func(ctx context.Context) (V, error)) (value V, cached bool, err error) {
	var zero V
	if !IsStructured(query) {
		c.bypass.Add(1)
		c.metrics.RecordCache(ctx, OutcomeBypass)
		v, err := fn(ctx)
		return v, false, err
	}

	key, err := Key(query, options)
	if err != nil {
		return zero, false, err
	}

	if v, ok := c.lookup(key); ok {
		c.recordHit(ctx, key)
		return v, true, nil
	}

	// Only the leader's closure runs; led and stored stay false for
	// callers that joined its flight.
	var led, stored bool
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		led = true
		if v, ok := c.lookup(key); ok {
			stored = true
			return v, nil
		}
		c.misses.Add(1)
		c.metrics.RecordCache(detached, OutcomeMiss)
		v, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, entry[V]{value: v, expiresAt: c.now().Add(c.ttl)})
		return v, nil
	})

	select {
	case res := <-ch:
		switch {
		case led && stored:
			c.recordHit(ctx, key)
		case !led:
			c.dedups.Add(1)
			c.metrics.RecordCache(ctx, OutcomeDedup)
		}
		if res.Err != nil {
			return zero, false, res.Err
		}
		v, _ := res.Val.(V)
		return v, !led || stored, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (c *ResponseCache[V]) recordHit(ctx context.Context, key string) {
	c.hits.Add(1)
	c.metrics.RecordCache(ctx, OutcomeHit)
	slog.Debug("Response cache hit", "key", key[:12])
}

func (c *ResponseCache[V]) lookup(key string) (V, bool) {
	var zero V
	raw, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	e := raw.(entry[V])
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry for query and options.
func (c *ResponseCache[V]) Invalidate(query string, options any) error {
	key, err := Key(query, options)
	if err != nil {
		return err
	}
	c.entries.Remove(key)
	return nil
}

// Purge drops every entry.
func (c *ResponseCache[V]) Purge() {
	c.entries.Purge()
}

// Sweep removes expired entries and returns how many it removed.
func (c *ResponseCache[V]) Sweep() int {
	now := c.now()
	removed := 0
	for _, k := range c.entries.Keys() {
		raw, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		if e := raw.(entry[V]); !now.Before(e.expiresAt) {
			c.entries.Remove(k)
			removed++
		}
	}
	return removed
}

// Stats returns the counters.
func (c *ResponseCache[V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Dedups:  c.dedups.Load(),
		Bypass:  c.bypass.Load(),
		Entries: c.entries.Len(),
	}
}

func (c *ResponseCache[V]) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("Response cache swept", "expired", n)
			}
		}
	}
}

// Close stops the janitor. It is safe to call more than once.
func (c *ResponseCache[V]) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return nil
}
