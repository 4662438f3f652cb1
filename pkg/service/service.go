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

// Package service answers queries against documents. It prepares the
// documents, registers their tools and routes the query to the direct,
// context or agent path, caching structured queries on the way.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/docqa/pkg/agent"
	"github.com/kadirpekel/docqa/pkg/cache"
	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/observability"
	"github.com/kadirpekel/docqa/pkg/retrieval"
	"github.com/kadirpekel/docqa/pkg/retry"
	"github.com/kadirpekel/docqa/pkg/tools"
)

// Mode selects how a query is answered.
type Mode string

const (
	// ModeAuto uses the direct route for one document and the agent
	// otherwise.
	ModeAuto Mode = "auto"
	// ModeDirect calls the single document's tool without the agent.
	ModeDirect Mode = "direct"
	// ModeContext assembles context from every document and asks the LLM
	// once.
	ModeContext Mode = "context"
	// ModeAgent runs the reasoning/acting loop.
	ModeAgent Mode = "agent"
)

// ParseMode validates a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeDirect, ModeContext, ModeAgent:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (valid: auto, direct, context, agent)", ErrInvalidRequest, s)
	}
}

// ErrInvalidRequest is returned for malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

// Request is a question about a set of documents.
type Request struct {
	Query         string   `json:"query"`
	DocumentPaths []string `json:"document_paths"`
	Mode          Mode     `json:"mode,omitempty"`
}

// Response is the answer with its attribution.
type Response struct {
	Answer    string           `json:"answer"`
	Sources   []string         `json:"sources"`
	ToolTrace []agent.ToolCall `json:"tool_trace"`
	Mode      Mode             `json:"mode"`
	Cached    bool             `json:"cached"`

	// Failed lists documents that could not be prepared and were left
	// out of the answer.
	Failed map[string]string `json:"failed,omitempty"`
}

// DocumentInfo describes a prepared document.
type DocumentInfo struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	Tool        string    `json:"tool"`
	Chunks      int       `json:"chunks"`
	SizeBytes   int64     `json:"size_bytes"`
	ModifiedAt  time.Time `json:"modified_at"`
	BuiltAt     time.Time `json:"built_at"`
	Reused      bool      `json:"reused"`
}

// ToolFactory creates the document tool for a path.
type ToolFactory func(path string) tools.DocumentTool

// Watcher is told about every prepared document.
type Watcher interface {
	Add(path string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Index        *index.Cache
	Assembler    *retrieval.Assembler
	Registry     *tools.Registry
	Orchestrator *agent.Orchestrator
	Model        llm.Model
	NewTool      ToolFactory

	// Optional.
	Cache   *cache.ResponseCache[*Response]
	Watcher Watcher
	Retryer *retry.Retryer
	Tracer  trace.Tracer
	Metrics observability.Metrics
}

// Options tune a Service.
type Options struct {
	Budget               int
	Timeout              time.Duration
	DirectSingleDocument bool
}

// Service answers queries.
type Service struct {
	deps Deps
	opts Options
}

// New creates a Service.
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Index == nil:
		return nil, errors.New("service: index is required")
	case deps.Assembler == nil:
		return nil, errors.New("service: assembler is required")
	case deps.Registry == nil:
		return nil, errors.New("service: registry is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("service: orchestrator is required")
	case deps.Model == nil:
		return nil, errors.New("service: model is required")
	}
	if deps.NewTool == nil {
		budget := opts.Budget
		deps.NewTool = func(path string) tools.DocumentTool {
			return tools.NewDocumentTool(path, deps.Assembler, budget)
		}
	}
	if deps.Retryer == nil {
		deps.Retryer = retry.New(retry.DefaultConfig())
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("service")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = agent.DefaultTimeout
	}
	return &Service{deps: deps, opts: opts}, nil
}

type cacheOptions struct {
	Paths []string `json:"paths"`
	Mode  Mode     `json:"mode"`
}

// Query answers req.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	paths := cleanPaths(req.DocumentPaths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: at least one document path is required", ErrInvalidRequest)
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	mode = s.resolve(mode, len(paths))
	if mode == ModeDirect && len(paths) != 1 {
		return nil, fmt.Errorf("%w: direct mode needs exactly one document", ErrInvalidRequest)
	}

	exec := func(ctx context.Context) (*Response, error) {
		return s.execute(ctx, req.Query, paths, mode)
	}
	if s.deps.Cache == nil {
		return exec(ctx)
	}

	keyPaths := slices.Clone(paths)
	slices.Sort(keyPaths)
	resp, cached, err := s.deps.Cache.Get(ctx, req.Query, cacheOptions{Paths: keyPaths, Mode: mode}, exec)
	if err != nil {
		return nil, err
	}
	if cached {
		out := *resp
		out.Cached = true
		return &out, nil
	}
	return resp, nil
}

func (s *Service) resolve(mode Mode, docs int) Mode {
	if mode != ModeAuto {
		return mode
	}
	if docs == 1 && s.opts.DirectSingleDocument {
		return ModeDirect
	}
	return ModeAgent
}

// timeout is the wall-clock limit of a query in mode. The agent route
// uses the orchestrator's limit.
func (s *Service) timeout(mode Mode) time.Duration {
	if mode == ModeAgent {
		return s.deps.Orchestrator.Timeout()
	}
	return s.opts.Timeout
}

func (s *Service) execute(ctx context.Context, query string, paths []string, mode Mode) (resp *Response, err error) {
	start := time.Now()
	ctx, span := s.deps.Tracer.Start(ctx, observability.SpanQuery,
		trace.WithAttributes(
			attribute.String(observability.AttrQueryMode, string(mode)),
			attribute.Int("query.documents", len(paths)),
		))
	defer func() {
		s.deps.Metrics.RecordQuery(ctx, string(mode), time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}()

	// One deadline covers preparation and answering. Builds keep running
	// for other waiters when it expires.
	timeout := s.timeout(mode)
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ready, failed, err := s.prepare(qctx, paths)
	if err != nil {
		return nil, s.classify(qctx, start, timeout, err, paths)
	}

	switch mode {
	case ModeDirect:
		resp, err = s.answerDirect(qctx, query, ready[0])
	case ModeContext:
		resp, err = s.answerWithContext(qctx, query, ready)
	default:
		resp, err = s.answerWithAgent(qctx, query, ready)
	}
	if err != nil {
		return nil, s.classify(qctx, start, timeout, err, paths)
	}

	resp.Mode = mode
	if len(failed) > 0 {
		resp.Failed = make(map[string]string, len(failed))
		for p, e := range failed {
			resp.Failed[p] = e.Error()
		}
	}
	slog.Info("Query answered",
		"mode", mode,
		"documents", len(ready),
		"sources", len(resp.Sources),
		"duration", time.Since(start))
	return resp, nil
}

// prepare builds the documents and registers their tools. It fails only
// when no document could be prepared; every per-path failure is an
// index.ParseError or index.BuildError.
func (s *Service) prepare(ctx context.Context, paths []string) ([]string, map[string]error, error) {
	result := s.deps.Index.PrepareMany(ctx, paths)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var ready []string
	for _, p := range result.Succeeded {
		if err := s.register(p); err != nil {
			result.Failed[p] = &index.BuildError{Path: p, Err: err}
			continue
		}
		ready = append(ready, p)
	}
	for p, err := range result.Failed {
		slog.Warn("Document unavailable", "path", p, "error", err)
	}

	if len(ready) == 0 {
		errs := make([]error, 0, len(result.Failed))
		for _, p := range sortedKeys(result.Failed) {
			errs = append(errs, result.Failed[p])
		}
		if len(errs) == 1 {
			return nil, nil, errs[0]
		}
		return nil, nil, errors.Join(errs...)
	}
	return ready, result.Failed, nil
}

func (s *Service) register(path string) error {
	if _, ok := s.deps.Registry.NameFor(path); ok {
		return nil
	}
	if err := s.deps.Registry.RegisterDocument(s.deps.NewTool(path)); err != nil {
		return err
	}
	if s.deps.Watcher != nil {
		if err := s.deps.Watcher.Add(path); err != nil {
			slog.Warn("Failed to watch document", "path", path, "error", err)
		}
	}
	return nil
}

func (s *Service) answerDirect(ctx context.Context, query, path string) (*Response, error) {
	name, _ := s.deps.Registry.NameFor(path)

	out, err := retry.Do(ctx, s.deps.Retryer, "tool "+name, func(ctx context.Context) (string, error) {
		return s.deps.Registry.Invoke(ctx, name, query)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			return nil, &agent.ToolExecutionError{Tool: name, Attempts: retryErr.Attempts, Err: retryErr.LastError}
		}
		return nil, &agent.ToolExecutionError{Tool: name, Attempts: 1, Err: err}
	}

	return &Response{
		Answer:    strings.TrimSpace(out),
		Sources:   []string{path},
		ToolTrace: []agent.ToolCall{{Tool: name, Input: query, Observation: out}},
	}, nil
}

const contextPrompt = `You answer questions using excerpts from several documents. Each section starts with the document it came from.
Use only the excerpts. When documents disagree, say so and name them.
If the excerpts do not contain the answer, say so plainly.`

func (s *Service) answerWithContext(ctx context.Context, query string, paths []string) (*Response, error) {
	bundle, err := s.deps.Assembler.Assemble(ctx, query, paths, s.opts.Budget)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Excerpts:\n%s\n\nQuestion: %s", bundle.Text, query)
	answer, err := llm.Collect(ctx, s.deps.Model, contextPrompt, []llm.Message{llm.User(prompt)})
	if err != nil {
		return nil, &agent.CompletionError{Model: s.deps.Model.Name(), Iteration: 1, Err: err}
	}

	sources := bundle.Sources
	if sources == nil {
		sources = []string{}
	}
	return &Response{
		Answer:    strings.TrimSpace(answer),
		Sources:   sources,
		ToolTrace: []agent.ToolCall{},
	}, nil
}

func (s *Service) answerWithAgent(ctx context.Context, query string, paths []string) (*Response, error) {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		if name, ok := s.deps.Registry.NameFor(p); ok {
			names = append(names, name)
		}
	}

	res, err := s.deps.Orchestrator.Run(ctx, query, s.deps.Registry.Scope(names...))
	if err != nil {
		return nil, err
	}
	return &Response{
		Answer:    res.Answer,
		Sources:   res.Sources,
		ToolTrace: res.ToolTrace,
	}, nil
}

// classify maps a failed query onto the typed errors callers can rely
// on: agent.TimeoutError once the query deadline has passed, the agent,
// index and retrieval errors as they are, and caller cancellation as is.
// Anything else is a document failure and becomes an index.BuildError.
func (s *Service) classify(ctx context.Context, start time.Time, timeout time.Duration, err error, paths []string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		iterations := 0
		var timeoutErr *agent.TimeoutError
		if errors.As(err, &timeoutErr) {
			iterations = timeoutErr.Iterations
		}
		return &agent.TimeoutError{Timeout: timeout, Elapsed: time.Since(start), Iterations: iterations}
	}
	if errors.Is(err, context.Canceled) || isTyped(err) {
		return err
	}
	return &index.BuildError{Path: strings.Join(paths, ", "), Err: err}
}

func isTyped(err error) bool {
	var (
		timeoutErr    *agent.TimeoutError
		toolErr       *agent.ToolExecutionError
		completionErr *agent.CompletionError
		parseErr      *index.ParseError
		buildErr      *index.BuildError
		retrievalErr  *retrieval.Error
	)
	return errors.As(err, &timeoutErr) ||
		errors.As(err, &toolErr) ||
		errors.As(err, &completionErr) ||
		errors.As(err, &parseErr) ||
		errors.As(err, &buildErr) ||
		errors.As(err, &retrievalErr)
}

// Prepare builds documents ahead of queries.
func (s *Service) Prepare(ctx context.Context, paths []string) index.PrepareResult {
	paths = cleanPaths(paths)
	result := s.deps.Index.PrepareMany(ctx, paths)
	var ok []string
	for _, p := range result.Succeeded {
		if err := s.register(p); err != nil {
			result.Failed[p] = &index.BuildError{Path: p, Err: err}
			continue
		}
		ok = append(ok, p)
	}
	result.Succeeded = ok
	return result
}

// Documents lists the prepared documents.
func (s *Service) Documents() []DocumentInfo {
	handles := s.deps.Index.Resident()
	out := make([]DocumentInfo, 0, len(handles))
	for _, h := range handles {
		name, _ := s.deps.Registry.NameFor(h.Path)
		out = append(out, DocumentInfo{
			Path:        h.Path,
			DisplayName: h.DisplayName,
			Tool:        name,
			Chunks:      h.ChunkCount,
			SizeBytes:   h.Fingerprint.SizeBytes,
			ModifiedAt:  h.Fingerprint.ModifiedAt,
			BuiltAt:     h.BuiltAt,
			Reused:      h.Reused,
		})
	}
	return out
}

// Forget removes a document's index, stored chunks and tool.
func (s *Service) Forget(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if name, ok := s.deps.Registry.NameFor(path); ok {
		_ = s.deps.Registry.Unregister(name)
	}
	if err := s.deps.Index.Forget(ctx, path); err != nil && !errors.Is(err, chunkstore.ErrNotFound) {
		return err
	}
	s.purgeCache()
	return nil
}

// Stats reports what the chunk store holds.
func (s *Service) Stats(ctx context.Context) (chunkstore.Stats, error) {
	return s.deps.Index.Store().Stats(ctx)
}

// Clear forgets every document.
func (s *Service) Clear(ctx context.Context) error {
	for _, h := range s.deps.Index.Resident() {
		if name, ok := s.deps.Registry.NameFor(h.Path); ok {
			_ = s.deps.Registry.Unregister(name)
		}
		s.deps.Index.Invalidate(ctx, h.Path)
	}
	s.purgeCache()
	return s.deps.Index.Store().Clear(ctx)
}

// CacheStats returns the response cache counters, if caching is on.
func (s *Service) CacheStats() (cache.Stats, bool) {
	if s.deps.Cache == nil {
		return cache.Stats{}, false
	}
	return s.deps.Cache.Stats(), true
}

func (s *Service) purgeCache() {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge()
	}
}

// Registry returns the tool registry.
func (s *Service) Registry() *tools.Registry {
	return s.deps.Registry
}

func cleanPaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
