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

// Command docqa answers questions about local documents.
//
// Usage:
//
//	docqa ask --document report.pdf "What changed in Q3?"
//	docqa prepare handbook.md policies.docx
//	docqa serve --config docqa.yaml --watch
//	docqa mcp --document handbook.md
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/docqa"
	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/config/provider"
)

// defaultConfigFile is used when --config is not given and it exists.
const defaultConfigFile = "docqa.yaml"

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API."`
	Ask      AskCmd      `cmd:"" help:"Answer a question about documents."`
	Prepare  PrepareCmd  `cmd:"" help:"Parse and index documents ahead of queries."`
	Store    StoreCmd    `cmd:"" help:"Inspect or clear the chunk store."`
	MCP      MCPCmd      `cmd:"" name:"mcp" help:"Serve document tools over MCP on stdio."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config          string   `short:"c" help:"Config file path, or key path for remote providers." type:"path"`
	ConfigProvider  string   `name:"config-provider" help:"Config source (file, consul, etcd, zookeeper)." default:"file" enum:"file,consul,etcd,zookeeper"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of the remote config provider." sep:","`

	LLMProvider string `name:"llm-provider" help:"Override llm.provider (ollama, gemini)."`
	LLMModel    string `name:"llm-model" help:"Override llm.model."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`

	out io.Writer
}

func (c *CLI) stdout() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

// loadConfig resolves the configuration: an explicit source, else
// docqa.yaml in the working directory, else defaults. Flag overrides are
// applied last. The Loader is nil when no source was used.
func (c *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	path := c.Config
	if path == "" && c.ConfigProvider == string(provider.TypeFile) {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	var (
		cfg    *config.Config
		loader *config.Loader
		err    error
	)
	if path != "" {
		typ, perr := provider.ParseType(c.ConfigProvider)
		if perr != nil {
			return nil, nil, perr
		}
		cfg, loader, err = config.LoadConfig(ctx, provider.ProviderConfig{
			Type:      typ,
			Path:      path,
			Endpoints: c.ConfigEndpoints,
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("Loaded configuration", "source", c.ConfigProvider, "path", path)
	} else {
		cfg = &config.Config{}
	}

	if c.applyOverrides(cfg) || loader == nil {
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			if loader != nil {
				_ = loader.Close()
			}
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, loader, nil
}

// applyOverrides applies flag overrides and reports whether any applied.
func (c *CLI) applyOverrides(cfg *config.Config) bool {
	changed := false
	if c.LLMProvider != "" && c.LLMProvider != cfg.LLM.Provider {
		// Provider-specific defaults must be recomputed.
		cfg.LLM = config.LLMConfig{Provider: c.LLMProvider, APIKey: cfg.LLM.APIKey}
		changed = true
	}
	if c.LLMModel != "" {
		cfg.LLM.Model = c.LLMModel
		changed = true
	}
	return changed
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	_, err := fmt.Fprintln(cli.stdout(), docqa.GetVersion().String())
	return err
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("docqa"),
		kong.Description("Ask questions about your documents."),
		kong.UsageOnError(),
	)

	config.LoadDotEnv(cli.Config)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	ctx.FatalIfErrorf(err)
}
