package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/service"
	"github.com/kadirpekel/docqa/pkg/tools"
)

type stubModel struct{}

func (stubModel) Name() string { return "stub" }

func (stubModel) Complete(context.Context, string, []llm.Message) (string, error) {
	return "Final Answer: stubbed", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ChunkStore: config.ChunkStoreConfig{Backend: config.ChunkStoreFile, Dir: filepath.Join(t.TempDir(), "chunks")},
		Embedder:   config.EmbedderConfig{Provider: "hash", Dimension: 64},
		Tools:      config.ToolsConfig{Synthesize: config.BoolPtr(false)},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_AnswersQueries(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	rt, err := New(ctx, cfg, WithModel(stubModel{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.md")
	require.NoError(t, os.WriteFile(a, []byte("alpha facts"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("beta facts"), 0o644))

	resp, err := rt.Service().Query(ctx, service.Request{Query: "alpha", DocumentPaths: []string{a}})
	require.NoError(t, err)
	assert.Equal(t, service.ModeDirect, resp.Mode)
	assert.Contains(t, resp.Answer, "alpha facts")

	resp, err = rt.Service().Query(ctx, service.Request{Query: "both", DocumentPaths: []string{a, b}})
	require.NoError(t, err)
	assert.Equal(t, service.ModeAgent, resp.Mode)
	assert.Equal(t, "stubbed", resp.Answer)

	// The planner is registered next to the two document tools.
	names := make([]string, 0)
	for _, tool := range rt.Service().Registry().Tools() {
		names = append(names, tool.Name())
	}
	assert.Contains(t, names, tools.PlannerName)
	assert.Len(t, names, 3)

	stats, err := rt.Service().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Same(t, cfg, rt.Config())
}

func TestNew_StoredChunksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("persisted text"), 0o644))

	first, err := New(ctx, cfg, WithModel(stubModel{}))
	require.NoError(t, err)
	res := first.Service().Prepare(ctx, []string{path})
	require.Empty(t, res.Failed)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, WithModel(stubModel{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	h, err := second.Index().GetOrBuild(ctx, path)
	require.NoError(t, err)
	assert.True(t, h.Reused)
}

func TestNew_WebSearchTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Planner = config.BoolPtr(false)
	cfg.Tools.WebSearch = config.WebSearchConfig{Enabled: true, URL: "http://127.0.0.1:1/search"}
	cfg.SetDefaults()

	rt, err := New(context.Background(), cfg, WithModel(stubModel{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	tool, ok := rt.Service().Registry().Get(tools.WebSearchName)
	require.True(t, ok)
	assert.Equal(t, tools.WebSearchName, tool.Name())
	_, ok = rt.Service().Registry().Get(tools.PlannerName)
	assert.False(t, ok)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestDefaultLLMFactory(t *testing.T) {
	ctx := context.Background()

	m, err := DefaultLLMFactory(ctx, &config.LLMConfig{Provider: LLMProviderOllama, Model: "llama3.2", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", m.Name())

	_, err = DefaultLLMFactory(ctx, &config.LLMConfig{Provider: LLMProviderGemini})
	assert.Error(t, err)

	_, err = DefaultLLMFactory(ctx, &config.LLMConfig{Provider: "unknown"})
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestNewChunkStore(t *testing.T) {
	ctx := context.Background()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	tests := []struct {
		name string
		cfg  func(*config.Config)
	}{
		{"memory", func(c *config.Config) { c.ChunkStore.Backend = config.ChunkStoreMemory }},
		{"file", func(c *config.Config) {
			c.ChunkStore.Backend = config.ChunkStoreFile
			c.ChunkStore.Dir = t.TempDir()
		}},
		{"sqlite", func(c *config.Config) {
			c.ChunkStore.Backend = config.ChunkStoreSQL
			c.Database = config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "chunks.db")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			tt.cfg(cfg)
			cfg.SetDefaults()

			store, err := NewChunkStore(ctx, cfg, pool)
			require.NoError(t, err)
			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Documents)
			require.NoError(t, store.Close())
		})
	}

	_, err := NewChunkStore(ctx, &config.Config{ChunkStore: config.ChunkStoreConfig{Backend: "tape"}}, pool)
	assert.Error(t, err)
}
