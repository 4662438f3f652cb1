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

package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/agent"
	"github.com/kadirpekel/docqa/pkg/cache"
	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/parser"
	"github.com/kadirpekel/docqa/pkg/retrieval"
	"github.com/kadirpekel/docqa/pkg/retry"
	"github.com/kadirpekel/docqa/pkg/tools"
	"github.com/kadirpekel/docqa/pkg/vector"
)

type replyFunc func(transcript []llm.Message) string

type fakeModel struct {
	mu    sync.Mutex
	reply replyFunc
	calls int
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) Complete(_ context.Context, _ string, transcript []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply(transcript), nil
}

type failingTool struct {
	path  string
	calls int
}

func (f *failingTool) Name() string         { return tools.ToolName(f.path) }
func (f *failingTool) Description() string  { return "always fails" }
func (f *failingTool) DocumentPath() string { return f.path }
func (f *failingTool) DisplayName() string  { return "failing" }

func (f *failingTool) Execute(context.Context, tools.Input) (string, error) {
	f.calls++
	return "", errors.New("vector index unavailable")
}

type fixture struct {
	svc   *Service
	model *fakeModel
	dir   string
	a, b  string
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFixture(t *testing.T, reply replyFunc, mutate func(*Deps, *Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		model: &fakeModel{reply: reply},
		dir:   dir,
		a:     writeDoc(t, dir, "alpha-report.md", "Alpha revenue grew to 10M in 2023."),
		b:     writeDoc(t, dir, "beta_report.md", "Beta costs fell to 4M in 2023."),
	}

	vectors, err := vector.NewChromemStore(vector.ChromemOptions{}, embedder.NewHash(64))
	require.NoError(t, err)
	idx := index.New(chunkstore.New(chunkstore.NewMemoryBackend()), parser.New(parser.Options{}), vectors)
	asm := retrieval.NewAssembler(idx)

	deps := Deps{
		Index:        idx,
		Assembler:    asm,
		Registry:     tools.NewRegistry(),
		Orchestrator: agent.New(f.model, agent.WithTimeout(5*time.Second)),
		Model:        f.model,
		Retryer:      retry.New(retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond}),
	}
	opts := Options{Budget: 4000, DirectSingleDocument: true}
	if mutate != nil {
		mutate(&deps, &opts)
	}

	f.svc, err = New(deps, opts)
	require.NoError(t, err)
	return f
}

func TestQuery_Validation(t *testing.T) {
	f := newFixture(t, func([]llm.Message) string { return "" }, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{Query: "  ", DocumentPaths: []string{f.a}}},
		{"no documents", Request{Query: "q", DocumentPaths: []string{"", " "}}},
		{"unknown mode", Request{Query: "q", DocumentPaths: []string{f.a}, Mode: "magic"}},
		{"direct with two documents", Request{Query: "q", DocumentPaths: []string{f.a, f.b}, Mode: ModeDirect}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Query(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestQuery_DirectSingleDocument(t *testing.T) {
	f := newFixture(t, func([]llm.Message) string { return "unused" }, nil)

	resp, err := f.svc.Query(context.Background(), Request{Query: "revenue", DocumentPaths: []string{f.a}})
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, resp.Mode)
	assert.Contains(t, resp.Answer, "Alpha revenue grew to 10M")
	assert.Contains(t, resp.Answer, "**From alpha report:**")
	assert.Equal(t, []string{f.a}, resp.Sources)
	require.Len(t, resp.ToolTrace, 1)
	assert.Equal(t, tools.ToolName(f.a), resp.ToolTrace[0].Tool)
	assert.Equal(t, 0, f.model.calls)
}

func TestQuery_DirectRetryExhausted(t *testing.T) {
	var tool *failingTool
	f := newFixture(t, func([]llm.Message) string { return "" }, func(d *Deps, _ *Options) {
		d.NewTool = func(path string) tools.DocumentTool {
			tool = &failingTool{path: path}
			return tool
		}
	})

	_, err := f.svc.Query(context.Background(), Request{Query: "q", DocumentPaths: []string{f.a}})
	var toolErr *agent.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.Attempts)
	assert.Equal(t, 3, tool.calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts: vector index unavailable")
}

func TestQuery_Agent(t *testing.T) {
	var toolA string
	f := newFixture(t, func(transcript []llm.Message) string {
		if len(transcript) == 1 {
			return "Thought: alpha has revenue.\nAction: " + toolA + "\nAction Input: {\"query\": \"revenue\"}"
		}
		return "Final Answer: Alpha made 10M."
	}, nil)
	toolA = tools.ToolName(f.a)

	resp, err := f.svc.Query(context.Background(), Request{Query: "Who made 10M?", DocumentPaths: []string{f.a, f.b}})
	require.NoError(t, err)

	assert.Equal(t, ModeAgent, resp.Mode)
	assert.Equal(t, "Alpha made 10M.", resp.Answer)
	assert.Equal(t, []string{f.a}, resp.Sources)
	require.Len(t, resp.ToolTrace, 1)
	assert.Contains(t, resp.ToolTrace[0].Observation, "Alpha revenue")
	assert.Equal(t, 2, f.model.calls)
}

func TestQuery_Context(t *testing.T) {
	f := newFixture(t, func(transcript []llm.Message) string {
		return "Both documents cover 2023."
	}, nil)

	resp, err := f.svc.Query(context.Background(), Request{Query: "2023", DocumentPaths: []string{f.a, f.b}, Mode: ModeContext})
	require.NoError(t, err)
	assert.Equal(t, ModeContext, resp.Mode)
	assert.Equal(t, "Both documents cover 2023.", resp.Answer)
	assert.ElementsMatch(t, []string{f.a, f.b}, resp.Sources)
	assert.Empty(t, resp.ToolTrace)
}

func TestQuery_PartialPrepareFailure(t *testing.T) {
	f := newFixture(t, func([]llm.Message) string { return "Context answer." }, nil)
	missing := filepath.Join(f.dir, "missing.md")

	resp, err := f.svc.Query(context.Background(), Request{Query: "q", DocumentPaths: []string{f.a, missing}, Mode: ModeContext})
	require.NoError(t, err)
	assert.Equal(t, []string{f.a}, resp.Sources)
	require.Contains(t, resp.Failed, missing)

	_, err = f.svc.Query(context.Background(), Request{Query: "q", DocumentPaths: []string{missing}})
	var parseErr *index.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, missing, parseErr.Path)
}

func TestQuery_CachesStructuredQueries(t *testing.T) {
	f := newFixture(t, func([]llm.Message) string { return "cached answer" }, func(d *Deps, _ *Options) {
		c, err := cache.New[*Response](cache.Config{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		d.Cache = c
	})
	ctx := context.Background()
	req := Request{Query: `{"metric": "revenue"}`, DocumentPaths: []string{f.a, f.b}, Mode: ModeContext}

	first, err := f.svc.Query(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Same documents in another order hit the same entry.
	req.DocumentPaths = []string{f.b, f.a}
	second, err := f.svc.Query(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, f.model.calls)

	free := Request{Query: "what is revenue", DocumentPaths: []string{f.a, f.b}, Mode: ModeContext}
	_, err = f.svc.Query(ctx, free)
	require.NoError(t, err)
	_, err = f.svc.Query(ctx, free)
	require.NoError(t, err)
	assert.Equal(t, 3, f.model.calls)

	stats, ok := f.svc.CacheStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Bypass)
}

func TestPrepareDocumentsForgetClear(t *testing.T) {
	f := newFixture(t, func([]llm.Message) string { return "" }, nil)
	ctx := context.Background()

	result := f.svc.Prepare(ctx, []string{f.a, f.b, f.a})
	assert.ElementsMatch(t, []string{f.a, f.b}, result.Succeeded)
	assert.Empty(t, result.Failed)

	docs := f.svc.Documents()
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, tools.ToolName(d.Path), d.Tool)
		assert.Equal(t, 1, d.Chunks)
	}
	assert.Len(t, f.svc.Registry().Tools(), 2)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)

	require.NoError(t, f.svc.Forget(ctx, f.a))
	assert.Len(t, f.svc.Documents(), 1)
	_, ok := f.svc.Registry().NameFor(f.a)
	assert.False(t, ok)

	require.NoError(t, f.svc.Clear(ctx))
	assert.Empty(t, f.svc.Documents())
	assert.Empty(t, f.svc.Registry().Tools())
	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	m, err = ParseMode(" Agent ")
	require.NoError(t, err)
	assert.Equal(t, ModeAgent, m)

	_, err = ParseMode("nope")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

var errRefused = errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")

// unreachableEmbedder fails every call the way a stopped embedding server
// does.
type unreachableEmbedder struct {
	embedder.Embedder
}

func (unreachableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errRefused
}

func (unreachableEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errRefused
}

// unreachableSearch indexes normally but fails every similarity search.
type unreachableSearch struct {
	vector.Store
}

func (unreachableSearch) Retrieve(context.Context, string, int, vector.Filter) ([]document.RetrievedChunk, error) {
	return nil, errRefused
}

// slowParser parses like p after sleeping, ignoring cancellation.
type slowParser struct {
	parser.Parser
	delay time.Duration
}

func (p slowParser) Parse(ctx context.Context, path string) ([]document.Chunk, error) {
	time.Sleep(p.delay)
	return p.Parser.Parse(ctx, path)
}

func withIndex(vectors vector.Store, p parser.Parser) func(*Deps, *Options) {
	return func(d *Deps, _ *Options) {
		d.Index = index.New(chunkstore.New(chunkstore.NewMemoryBackend()), p, vectors)
		d.Assembler = retrieval.NewAssembler(d.Index)
	}
}

func TestQuery_IndexFailureIsBuildError(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		docs int
	}{
		{"direct", ModeDirect, 1},
		{"context", ModeContext, 2},
		{"agent", ModeAgent, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vectors, err := vector.NewChromemStore(vector.ChromemOptions{}, unreachableEmbedder{embedder.NewHash(64)})
			require.NoError(t, err)
			f := newFixture(t, func([]llm.Message) string { return "Final Answer: unreachable" },
				withIndex(vectors, parser.New(parser.Options{})))

			paths := []string{f.a, f.b}[:tt.docs]
			_, err = f.svc.Query(context.Background(), Request{Query: "revenue", DocumentPaths: paths, Mode: tt.mode})
			var buildErr *index.BuildError
			require.ErrorAs(t, err, &buildErr)
			assert.Contains(t, paths, buildErr.Path)
			assert.ErrorIs(t, err, errRefused)
			assert.Zero(t, f.model.calls)
		})
	}
}

func TestQuery_RetrievalFailureIsTyped(t *testing.T) {
	newSearchFixture := func(t *testing.T) *fixture {
		vectors, err := vector.NewChromemStore(vector.ChromemOptions{}, embedder.NewHash(64))
		require.NoError(t, err)
		return newFixture(t, func([]llm.Message) string { return "unused" },
			withIndex(unreachableSearch{vectors}, parser.New(parser.Options{})))
	}

	t.Run("context", func(t *testing.T) {
		f := newSearchFixture(t)
		_, err := f.svc.Query(context.Background(), Request{Query: "revenue", DocumentPaths: []string{f.a, f.b}, Mode: ModeContext})
		var retrievalErr *retrieval.Error
		require.ErrorAs(t, err, &retrievalErr)
		assert.ElementsMatch(t, []string{f.a, f.b}, retrievalErr.Paths)
		assert.ErrorIs(t, err, errRefused)
	})

	t.Run("direct", func(t *testing.T) {
		f := newSearchFixture(t)
		_, err := f.svc.Query(context.Background(), Request{Query: "revenue", DocumentPaths: []string{f.a}, Mode: ModeDirect})
		var toolErr *agent.ToolExecutionError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, tools.ToolName(f.a), toolErr.Tool)
	})
}

func TestQuery_TimeoutCoversPreparation(t *testing.T) {
	const limit = 100 * time.Millisecond

	for _, mode := range []Mode{ModeDirect, ModeContext, ModeAgent} {
		t.Run(string(mode), func(t *testing.T) {
			vectors, err := vector.NewChromemStore(vector.ChromemOptions{}, embedder.NewHash(64))
			require.NoError(t, err)
			slow := withIndex(vectors, slowParser{Parser: parser.New(parser.Options{}), delay: 800 * time.Millisecond})
			f := newFixture(t, func([]llm.Message) string { return "Final Answer: too late" }, func(d *Deps, o *Options) {
				slow(d, o)
				d.Orchestrator = agent.New(d.Model, agent.WithTimeout(limit))
				o.Timeout = limit
			})

			paths := []string{f.a}
			if mode != ModeDirect {
				paths = append(paths, f.b)
			}

			start := time.Now()
			_, err = f.svc.Query(context.Background(), Request{Query: "revenue", DocumentPaths: paths, Mode: mode})
			elapsed := time.Since(start)

			var timeoutErr *agent.TimeoutError
			require.ErrorAs(t, err, &timeoutErr)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, limit, timeoutErr.Timeout)
			assert.Less(t, elapsed, 600*time.Millisecond)
			assert.Zero(t, f.model.calls)
		})
	}
}
