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

// Package index keeps one resident, searchable handle per document and
// builds it lazily from cached chunks or a fresh parse.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/observability"
	"github.com/kadirpekel/docqa/pkg/parser"
	"github.com/kadirpekel/docqa/pkg/vector"
)

// ParseError reports that a document could not be parsed. It is never
// cached; the next call parses again.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// BuildError reports that a parsed document could not be indexed, usually
// because the embedder or the vector store is unreachable. Like
// ParseError it is never cached.
type BuildError struct {
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to index %s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Handle is a resident, searchable document.
type Handle struct {
	Path        string               `json:"path"`
	DisplayName string               `json:"display_name"`
	Fingerprint document.Fingerprint `json:"fingerprint"`
	ChunkCount  int                  `json:"chunk_count"`
	BuiltAt     time.Time            `json:"built_at"`

	// Reused is true when the chunks came from the chunk store rather
	// than a fresh parse.
	Reused bool `json:"reused"`

	vectors vector.Store
}

// Retrieve returns the topK chunks of this document most similar to query.
func (h *Handle) Retrieve(ctx context.Context, query string, topK int) ([]document.RetrievedChunk, error) {
	return h.vectors.Retrieve(ctx, query, topK, vector.Filter{Sources: []string{h.Path}})
}

// PrepareResult reports the outcome of PrepareMany per path.
type PrepareResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"-"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithRevalidate makes GetOrBuild rebuild a resident handle whose file
// changed on disk. Enabled by default.
func WithRevalidate(on bool) Option {
	return func(c *Cache) { c.revalidate = on }
}

// WithConcurrency bounds the number of parallel builds in PrepareMany.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMetrics records index builds.
func WithMetrics(m observability.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer records a span per build.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Cache owns the resident handles. It is safe for concurrent use; at
// most one build runs per path.
type Cache struct {
	store   *chunkstore.Store
	tracker *chunkstore.StalenessTracker
	parser  parser.Parser
	vectors vector.Store

	revalidate  bool
	concurrency int
	metrics     observability.Metrics
	tracer      trace.Tracer

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

// New creates a cache over the given collaborators.
func New(store *chunkstore.Store, p parser.Parser, vectors vector.Store, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		tracker:     chunkstore.NewStalenessTracker(store),
		parser:      p,
		vectors:     vectors,
		revalidate:  true,
		concurrency: 4,
		metrics:     observability.NoopMetrics{},
		tracer:      noop.NewTracerProvider().Tracer("index"),
		handles:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Vectors returns the shared vector store.
func (c *Cache) Vectors() vector.Store {
	return c.vectors
}

// Store returns the chunk store.
func (c *Cache) Store() *chunkstore.Store {
	return c.store
}

func (c *Cache) resident(path string) *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[path]
}

// GetOrBuild returns the resident handle for path, building it if needed.
// Concurrent callers for the same path share one build; a caller whose
// ctx ends stops waiting without cancelling the build for the others.
func (c *Cache) GetOrBuild(ctx context.Context, path string) (*Handle, error) {
	path = filepath.Clean(path)

	stale := c.resident(path)
	if stale != nil && (!c.revalidate || c.fresh(stale)) {
		return stale, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		return c.build(context.WithoutCancel(ctx), path, stale)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

// fresh reports whether h still matches the file on disk. A file that
// can no longer be read is not fresh.
func (c *Cache) fresh(h *Handle) bool {
	live, err := document.Stat(h.Path)
	if err != nil {
		return false
	}
	return !live.ModifiedAt.After(h.Fingerprint.ModifiedAt) && live.SizeBytes == h.Fingerprint.SizeBytes
}

// build runs inside the per-path flight. stale is the handle the caller
// found outdated; it is dropped only if it is still the resident one, so
// a handle rebuilt by an earlier flight survives.
func (c *Cache) build(ctx context.Context, path string, stale *Handle) (h *Handle, err error) {
	if cur := c.resident(path); cur != nil {
		if cur != stale {
			return cur, nil
		}
		slog.Info("Document changed on disk, rebuilding", "path", path)
		c.dropHandle(ctx, stale)
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, observability.SpanIndexBuild,
		trace.WithAttributes(attribute.String(observability.AttrDocumentPath, path)))
	reused := false
	defer func() {
		c.metrics.RecordIndexBuild(ctx, reused, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("index.reused", reused))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	live, err := document.Stat(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var chunks []document.Chunk
	if c.tracker.ShouldReuse(ctx, path, live.ModifiedAt) {
		chunks, err = c.store.Load(ctx, path)
		if err != nil || len(chunks) == 0 {
			slog.Warn("Cached chunks unusable, reparsing", "path", path, "error", err)
			chunks = nil
		} else {
			reused = true
		}
	}

	if chunks == nil {
		chunks, err = c.parser.Parse(ctx, path)
		if err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		if len(chunks) == 0 {
			return nil, &ParseError{Path: path, Err: parser.ErrEmpty}
		}
		if err := c.store.Save(ctx, path, chunks, live); err != nil {
			slog.Warn("Failed to persist parsed chunks", "path", path, "error", err)
		}
	}

	if err := c.vectors.DeleteSource(ctx, path); err != nil {
		return nil, &BuildError{Path: path, Err: fmt.Errorf("clear previous entries: %w", err)}
	}
	if err := c.vectors.Insert(ctx, chunks); err != nil {
		return nil, &BuildError{Path: path, Err: err}
	}

	h = &Handle{
		Path:        path,
		DisplayName: document.DisplayName(path),
		Fingerprint: live,
		ChunkCount:  len(chunks),
		BuiltAt:     time.Now(),
		Reused:      reused,
		vectors:     c.vectors,
	}

	c.mu.Lock()
	c.handles[path] = h
	c.mu.Unlock()

	slog.Info("Document ready",
		"path", path,
		"chunks", len(chunks),
		"reused", reused,
		"duration", time.Since(start))
	return h, nil
}

// PrepareMany builds every path concurrently. Failures are reported per
// path and do not stop the other builds.
func (c *Cache) PrepareMany(ctx context.Context, paths []string) PrepareResult {
	type outcome struct {
		path string
		err  error
	}
	outcomes := make([]outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range paths {
		g.Go(func() error {
			_, err := c.GetOrBuild(gctx, p)
			outcomes[i] = outcome{path: filepath.Clean(p), err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := PrepareResult{Failed: make(map[string]error)}
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed[o.path] = o.err
			continue
		}
		result.Succeeded = append(result.Succeeded, o.path)
	}
	return result
}

// Invalidate drops the resident handle of path and its vector entries.
// The chunk store record is kept; staleness decides whether it is reused.
func (c *Cache) Invalidate(ctx context.Context, path string) {
	c.drop(ctx, filepath.Clean(path))
}

// dropHandle drops h only while it is the resident handle of its path.
func (c *Cache) dropHandle(ctx context.Context, h *Handle) {
	c.mu.Lock()
	if c.handles[h.Path] != h {
		c.mu.Unlock()
		return
	}
	delete(c.handles, h.Path)
	c.mu.Unlock()

	if err := c.vectors.DeleteSource(ctx, h.Path); err != nil {
		slog.Warn("Failed to drop vector entries", "path", h.Path, "error", err)
	}
}

func (c *Cache) drop(ctx context.Context, path string) {
	c.mu.Lock()
	_, ok := c.handles[path]
	delete(c.handles, path)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := c.vectors.DeleteSource(ctx, path); err != nil {
		slog.Warn("Failed to drop vector entries", "path", path, "error", err)
	}
}

// Forget invalidates path and removes its chunk store record.
func (c *Cache) Forget(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	c.drop(ctx, path)
	return c.store.Remove(ctx, path)
}

// Resident returns the resident handles ordered by path.
func (c *Cache) Resident() []*Handle {
	c.mu.RLock()
	out := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
