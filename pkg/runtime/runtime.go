// Package runtime assembles a docqa instance from configuration.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/docqa/pkg/agent"
	"github.com/kadirpekel/docqa/pkg/cache"
	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/embedder"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/observability"
	"github.com/kadirpekel/docqa/pkg/parser"
	"github.com/kadirpekel/docqa/pkg/retrieval"
	"github.com/kadirpekel/docqa/pkg/service"
	"github.com/kadirpekel/docqa/pkg/tools"
	"github.com/kadirpekel/docqa/pkg/vector"
)

// Runtime owns every long-lived component of a docqa instance.
type Runtime struct {
	config        *config.Config
	service       *service.Service
	index         *index.Cache
	registry      *tools.Registry
	store         *chunkstore.Store
	vectors       vector.Store
	cache         *cache.ResponseCache[*service.Response]
	watcher       *index.Watcher
	observability *observability.Manager
	dbPool        *config.DBPool
	cancel        context.CancelFunc
}

// Option configures New.
type Option func(*options)

type options struct {
	model    llm.Model
	embedder embedder.Embedder
	parser   parser.Parser
}

// WithModel uses m instead of the configured LLM.
func WithModel(m llm.Model) Option {
	return func(o *options) { o.model = m }
}

// WithEmbedder uses e instead of the configured embedder.
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithParser uses p instead of the default document parser.
func WithParser(p parser.Parser) Option {
	return func(o *options) { o.parser = p }
}

// New builds a Runtime from a defaulted and validated configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &Runtime{config: cfg, dbPool: config.NewDBPool(), cancel: cancel}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.observability, err = observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	tracer := rt.observability.Tracer()
	metrics := rt.observability.Metrics()

	model := o.model
	if model == nil {
		model, err = DefaultLLMFactory(ctx, &cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM: %w", err)
		}
	}
	model = llm.Instrument(model, tracer, metrics)

	emb := o.embedder
	if emb == nil {
		emb, err = embedder.New(cfg.Embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	rt.vectors, err = vector.New(cfg.Vector, emb)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	rt.store, err = NewChunkStore(ctx, cfg, rt.dbPool)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	docParser := o.parser
	if docParser == nil {
		docParser = parser.New(parser.Options{
			ChunkSize:    cfg.Parser.ChunkSize,
			ChunkOverlap: cfg.Parser.ChunkOverlap,
			MaxFileSize:  cfg.Parser.MaxFileSize,
		})
	}

	rt.index = index.New(rt.store, docParser, rt.vectors,
		index.WithRevalidate(config.BoolValue(cfg.Index.Revalidate, true)),
		index.WithConcurrency(cfg.Index.Concurrency),
		index.WithMetrics(metrics),
		index.WithTracer(tracer),
	)

	measurer, err := retrieval.NewMeasurer(cfg.Retrieval.Measure, cfg.Retrieval.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to create context measurer: %w", err)
	}
	assembler := retrieval.NewAssembler(rt.index,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithMeasurer(measurer),
	)

	rt.registry = tools.NewRegistry(
		tools.WithFallbackQuery(cfg.Tools.FallbackQuery),
		tools.WithTracer(tracer),
		tools.WithMetrics(metrics),
	)
	if err := registerAuxiliaryTools(rt.registry, cfg.Tools); err != nil {
		return nil, err
	}

	retryer := NewRetryer(cfg.Retry)
	orchestrator := agent.New(model,
		agent.WithTimeout(cfg.Agent.Timeout),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithRetryer(retryer),
		agent.WithConcurrency(cfg.Index.Concurrency),
	)

	if config.BoolValue(cfg.Cache.Enabled, true) {
		rt.cache, err = cache.New[*service.Response](cache.Config{
			TTL:           cfg.Cache.TTL,
			MaxEntries:    cfg.Cache.MaxEntries,
			SweepInterval: cfg.Cache.SweepInterval,
			Metrics:       metrics,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Index.Watch {
		rt.watcher, err = index.NewWatcher(rt.index)
		if err != nil {
			return nil, err
		}
		go rt.watcher.Run(runCtx)
	}

	budget := cfg.Retrieval.Budget
	synthesize := config.BoolValue(cfg.Tools.Synthesize, true)
	deps := service.Deps{
		Index:        rt.index,
		Assembler:    assembler,
		Registry:     rt.registry,
		Orchestrator: orchestrator,
		Model:        model,
		Retryer:      retryer,
		Tracer:       tracer,
		Metrics:      metrics,
		NewTool: func(path string) tools.DocumentTool {
			var opts []tools.DocumentOption
			if synthesize {
				opts = append(opts, tools.WithSynthesis(model))
			}
			return tools.NewDocumentTool(path, assembler, budget, opts...)
		},
	}
	deps.Cache = rt.cache
	if rt.watcher != nil {
		deps.Watcher = rt.watcher
	}

	rt.service, err = service.New(deps, service.Options{
		Budget:               budget,
		Timeout:              cfg.Agent.Timeout,
		DirectSingleDocument: config.BoolValue(cfg.Agent.DirectSingleDocument, true),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Runtime ready",
		"llm", model.Name(),
		"embedder", emb.Model(),
		"vector", rt.vectors.Name(),
		"chunk_store", cfg.ChunkStore.Backend,
		"measure", measurer.Unit())
	return rt, nil
}

func registerAuxiliaryTools(reg *tools.Registry, cfg config.ToolsConfig) error {
	if config.BoolValue(cfg.Planner, true) {
		planner := &tools.Planner{Documents: func() []string {
			docs := reg.Documents()
			names := make([]string, len(docs))
			for i, d := range docs {
				names[i] = d.Name()
			}
			return names
		}}
		if err := reg.Register(planner); err != nil {
			return err
		}
	}
	if cfg.WebSearch.Enabled {
		ws := tools.NewWebSearch(tools.WebSearchConfig{
			URL:        cfg.WebSearch.URL,
			MaxResults: cfg.WebSearch.MaxResults,
			Timeout:    cfg.WebSearch.Timeout,
		})
		if err := reg.Register(ws); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// Service returns the query service.
func (r *Runtime) Service() *service.Service {
	return r.service
}

// Index returns the document index cache.
func (r *Runtime) Index() *index.Cache {
	return r.index
}

// Observability returns the metrics and tracing manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.observability
}

// Close releases every component. It returns the first error and logs
// the rest.
func (r *Runtime) Close() error {
	var errs []error
	closeWith := func(name string, fn func() error) {
		if err := fn(); err != nil {
			slog.Warn("Cleanup failed", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("%s cleanup: %w", name, err))
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		closeWith("watcher", r.watcher.Close)
	}
	if r.cache != nil {
		closeWith("cache", r.cache.Close)
	}
	if r.vectors != nil {
		closeWith("vector store", r.vectors.Close)
	}
	if r.store != nil {
		closeWith("chunk store", r.store.Close)
	}
	if r.dbPool != nil {
		closeWith("database pool", r.dbPool.Close)
	}
	if r.observability != nil {
		closeWith("observability", func() error {
			return r.observability.Shutdown(context.Background())
		})
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
