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

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/docqa/pkg/observability"
	"github.com/kadirpekel/docqa/pkg/registry"
)

const logQueryLimit = 80

type entry struct {
	tool      Tool
	path      string
	auxiliary bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallbackQuery sets the query used when an input normalizes to
// nothing.
func WithFallbackQuery(q string) Option {
	return func(r *Registry) {
		if q != "" {
			r.fallback = q
		}
	}
}

// WithTracer records a span per invocation.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics records invocation metrics.
func WithMetrics(m observability.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Registry holds every known tool. Invocations are normalized, logged and
// traced here; retries belong to the caller.
type Registry struct {
	entries  *registry.BaseRegistry[entry]
	fallback string
	tracer   trace.Tracer
	metrics  observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  registry.NewBaseRegistry[entry](),
		fallback: DefaultFallbackQuery,
		tracer:   noop.NewTracerProvider().Tracer("tools"),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an auxiliary tool, visible in every scope.
func (r *Registry) Register(t Tool) error {
	if err := r.entries.Register(t.Name(), entry{tool: t, auxiliary: true}); err != nil {
		return &RegistryError{Action: "register", Message: fmt.Sprintf("cannot register tool %s", t.Name()), Err: err}
	}
	return nil
}

// RegisterDocument adds a document tool. Registering the same document
// again is a no-op; a different document whose path slugs to the same
// name is rejected.
func (r *Registry) RegisterDocument(t DocumentTool) error {
	name := t.Name()
	if existing, ok := r.entries.Get(name); ok {
		if existing.path == t.DocumentPath() {
			return nil
		}
		msg := fmt.Sprintf("tool name %s for %s collides with %s", name, t.DocumentPath(), existing.path)
		if existing.auxiliary {
			msg = fmt.Sprintf("tool name %s for %s collides with an auxiliary tool", name, t.DocumentPath())
		}
		return &RegistryError{Action: "register", Message: msg, Err: registry.ErrExists}
	}
	if err := r.entries.Register(name, entry{tool: t, path: t.DocumentPath()}); err != nil {
		return &RegistryError{Action: "register", Message: fmt.Sprintf("cannot register tool %s", name), Err: err}
	}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	if err := r.entries.Remove(name); err != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.entries.Get(name)
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Tools returns all tools in registration order.
func (r *Registry) Tools() []Tool {
	entries := r.entries.List()
	out := make([]Tool, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.tool)
	}
	return out
}

// Documents returns the document tools in registration order.
func (r *Registry) Documents() []DocumentTool {
	var out []DocumentTool
	for _, e := range r.entries.List() {
		if dt, ok := e.tool.(DocumentTool); ok && !e.auxiliary {
			out = append(out, dt)
		}
	}
	return out
}

// DocumentPath returns the document searched by the named tool.
func (r *Registry) DocumentPath(name string) (string, bool) {
	e, ok := r.entries.Get(name)
	if !ok || e.auxiliary {
		return "", false
	}
	return e.path, true
}

// NameFor returns the registered tool name for a document path.
func (r *Registry) NameFor(path string) (string, bool) {
	name := ToolName(path)
	e, ok := r.entries.Get(name)
	if !ok || e.path != path {
		return "", false
	}
	return name, true
}

// Invoke normalizes raw and runs the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, raw any) (string, error) {
	e, ok := r.entries.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		r.metrics.RecordToolExecution(ctx, name, 0, err)
		return "", err
	}
	return r.invoke(ctx, e.tool, raw)
}

func (r *Registry) invoke(ctx context.Context, t Tool, raw any) (string, error) {
	in := NormalizeInput(raw, r.fallback)
	name := t.Name()

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, name),
			attribute.String(observability.AttrToolQuery, truncate(in.Query, logQueryLimit)),
		))
	defer span.End()

	out, err := t.Execute(ctx, in)
	duration := time.Since(start)
	r.metrics.RecordToolExecution(ctx, name, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Tool failed",
			"tool", name,
			"query", truncate(in.Query, logQueryLimit),
			"duration", duration,
			"error", err)
		return "", err
	}

	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))
	span.SetStatus(codes.Ok, "success")
	slog.Info("Tool called",
		"tool", name,
		"query", truncate(in.Query, logQueryLimit),
		"duration", duration)
	return out, nil
}

// Scope returns a view restricted to the named tools plus every
// auxiliary tool. Unknown names are ignored.
func (r *Registry) Scope(names ...string) *Scope {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &Scope{registry: r, allowed: allowed}
}

// Scope is the per-query view of a Registry.
type Scope struct {
	registry *Registry
	allowed  map[string]bool
}

func (s *Scope) visible(e entry) bool {
	return e.auxiliary || s.allowed[e.tool.Name()]
}

// Tools returns the visible tools in registration order.
func (s *Scope) Tools() []Tool {
	var out []Tool
	for _, e := range s.registry.entries.List() {
		if s.visible(e) {
			out = append(out, e.tool)
		}
	}
	return out
}

// Documents returns the visible document tools.
func (s *Scope) Documents() []DocumentTool {
	var out []DocumentTool
	for _, e := range s.registry.entries.List() {
		if dt, ok := e.tool.(DocumentTool); ok && !e.auxiliary && s.visible(e) {
			out = append(out, dt)
		}
	}
	return out
}

// Invoke runs a visible tool.
func (s *Scope) Invoke(ctx context.Context, name string, raw any) (string, error) {
	e, ok := s.registry.entries.Get(name)
	if !ok || !s.visible(e) {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return s.registry.invoke(ctx, e.tool, raw)
}

// DocumentPath returns the document searched by a visible tool.
func (s *Scope) DocumentPath(name string) (string, bool) {
	e, ok := s.registry.entries.Get(name)
	if !ok || e.auxiliary || !s.visible(e) {
		return "", false
	}
	return e.path, true
}

// IsNotFound reports whether err means the tool does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var (
	_ Toolbox = (*Registry)(nil)
	_ Toolbox = (*Scope)(nil)
)
