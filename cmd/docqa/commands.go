package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/kadirpekel/docqa"
	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/runtime"
	"github.com/kadirpekel/docqa/pkg/server"
	"github.com/kadirpekel/docqa/pkg/service"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Address string `short:"a" help:"Listen address (overrides server.address)."`
	Watch   bool   `help:"Reload when the configuration changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	var srv *server.Server
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		if srv != nil {
			srv.Reload(next)
		}
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	defer reinitLogger(cli, cfg)()

	srv, err = server.New(server.Options{Config: cfg, Address: c.Address})
	if err != nil {
		return err
	}

	if c.Watch {
		if loader == nil {
			slog.Warn("Nothing to watch without a config source")
		} else {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	addr := cfg.Server.Address
	if c.Address != "" {
		addr = c.Address
	}
	w := cli.stdout()
	fmt.Fprintf(w, "docqa %s serving on %s\n", docqa.GetVersion().Version, addr)
	fmt.Fprintf(w, "   Query:     POST /v1/query\n")
	fmt.Fprintf(w, "   Documents: /v1/documents\n")
	fmt.Fprintf(w, "   Health:    GET /health\n")
	if cfg.Observability.Metrics.Enabled {
		fmt.Fprintf(w, "   Metrics:   GET /metrics\n")
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Fprintf(w, "   Tracing:   %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}

	return srv.Run(ctx)
}

// AskCmd answers one question.
type AskCmd struct {
	Query     string   `arg:"" help:"The question."`
	Documents []string `short:"d" name:"document" required:"" help:"Document to consult (repeatable)." type:"path"`
	Mode      string   `short:"m" help:"Answering route (auto, direct, context, agent)." default:"auto" enum:"auto,direct,context,agent"`
	JSON      bool     `name:"json" help:"Print the full response as JSON."`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	mode, err := service.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	resp, err := rt.Service().Query(ctx, service.Request{
		Query:         c.Query,
		DocumentPaths: c.Documents,
		Mode:          mode,
	})
	if err != nil {
		return err
	}
	return printResponse(cli.stdout(), resp, c.JSON)
}

// PrepareCmd parses and indexes documents.
type PrepareCmd struct {
	Documents []string `arg:"" help:"Documents to prepare." type:"path"`
}

func (c *PrepareCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	result := rt.Service().Prepare(ctx, c.Documents)
	w := cli.stdout()
	for _, info := range rt.Service().Documents() {
		state := "built"
		if info.Reused {
			state = "reused"
		}
		fmt.Fprintf(w, "ok    %s (%d chunks, %s, tool %s)\n", info.Path, info.Chunks, state, info.Tool)
	}
	failed := make([]string, 0, len(result.Failed))
	for p := range result.Failed {
		failed = append(failed, p)
	}
	sort.Strings(failed)
	for _, p := range failed {
		fmt.Fprintf(w, "fail  %s: %v\n", p, result.Failed[p])
	}

	if len(result.Succeeded) == 0 && len(failed) > 0 {
		return fmt.Errorf("no document could be prepared")
	}
	return nil
}

// StoreCmd groups chunk store maintenance.
type StoreCmd struct {
	Stats StoreStatsCmd `cmd:"" help:"Show what the chunk store holds."`
	Clear StoreClearCmd `cmd:"" help:"Remove every stored document."`
}

// StoreStatsCmd prints chunk store counters.
type StoreStatsCmd struct{}

func (c *StoreStatsCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.Service().Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout(), "Backend:   %s\nDocuments: %d\nChunks:    %d\n",
		rt.Config().ChunkStore.Backend, stats.Documents, stats.Chunks)
	return nil
}

// StoreClearCmd empties the chunk store.
type StoreClearCmd struct{}

func (c *StoreClearCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Service().Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.stdout(), "Chunk store cleared")
	return nil
}

// MCPCmd serves document tools over stdio.
type MCPCmd struct {
	Documents []string `short:"d" name:"document" help:"Document to publish at startup (repeatable)." type:"path"`
}

func (c *MCPCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	mcp := server.NewMCPServer(rt.Service(), docqa.GetVersion().Version)
	if len(c.Documents) > 0 {
		result := mcp.Prepare(ctx, c.Documents)
		for p, err := range result.Failed {
			slog.Warn("Document not published", "path", p, "error", err)
		}
	}
	return mcp.ServeStdio(ctx, os.Stdin, os.Stdout)
}

// ValidateCmd checks the configuration.
type ValidateCmd struct {
	Print bool `short:"p" help:"Print the effective configuration as JSON."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig(context.Background())
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	w := cli.stdout()
	if c.Print {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	fmt.Fprintf(w, "Configuration is valid\n")
	fmt.Fprintf(w, "   LLM:         %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(w, "   Embedder:    %s (%s)\n", cfg.Embedder.Provider, cfg.Embedder.Model)
	fmt.Fprintf(w, "   Vector:      %s\n", cfg.Vector.Type)
	fmt.Fprintf(w, "   Chunk store: %s\n", cfg.ChunkStore.Backend)
	return nil
}

// SchemaCmd prints the JSON Schema of the configuration.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	return writeSchema(cli.stdout(), c.Compact)
}

func writeSchema(w io.Writer, compact bool) error {
	data, err := config.Schema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	if compact {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func newRuntime(ctx context.Context, cli *CLI) (*runtime.Runtime, error) {
	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if loader != nil {
		_ = loader.Close()
	}
	reinitLogger(cli, cfg)
	return runtime.New(ctx, cfg)
}

func printResponse(w io.Writer, resp *service.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range resp.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	if len(resp.Failed) > 0 {
		fmt.Fprintln(w, "\nSkipped:")
		for _, p := range sortedKeys(resp.Failed) {
			fmt.Fprintf(w, "  - %s: %s\n", p, resp.Failed[p])
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
