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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/service"
)

const testConfigYAML = `
chunk_store:
  backend: memory
embedder:
  provider: hash
  dimension: 64
tools:
  synthesize: false
  planner: false
cache:
  enabled: false
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	return &CLI{
		Config:         writeFile(t, dir, "docqa.yaml", testConfigYAML),
		ConfigProvider: "file",
		out:            &out,
	}, &out
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		check   func(t *testing.T, cli *CLI)
	}{
		{
			name:    "ask",
			args:    []string{"ask", "-d", "a.md", "--document", "b.md", "-m", "context", "what is it"},
			command: "ask <query>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "what is it", cli.Ask.Query)
				assert.Len(t, cli.Ask.Documents, 2)
				assert.Equal(t, "context", cli.Ask.Mode)
			},
		},
		{
			name:    "serve",
			args:    []string{"serve", "--address", ":9090", "--watch", "--config-provider", "etcd", "--config-endpoints", "a:2379,b:2379"},
			command: "serve",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, ":9090", cli.Serve.Address)
				assert.True(t, cli.Serve.Watch)
				assert.Equal(t, []string{"a:2379", "b:2379"}, cli.ConfigEndpoints)
			},
		},
		{name: "store stats", args: []string{"store", "stats"}, command: "store stats"},
		{name: "mcp", args: []string{"mcp", "-d", "x.md"}, command: "mcp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli CLI
			parser, err := kong.New(&cli, kong.Name("docqa"))
			require.NoError(t, err)
			kctx, err := parser.Parse(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.command, kctx.Command())
			if tt.check != nil {
				tt.check(t, &cli)
			}
		})
	}

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("docqa"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"ask", "-m", "fast", "-d", "a.md", "q"})
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	cli, _ := newTestCLI(t)

	cfg, loader, err := cli.loadConfig(t.Context())
	require.NoError(t, err)
	require.NotNil(t, loader)
	t.Cleanup(func() { _ = loader.Close() })
	assert.Equal(t, "memory", cfg.ChunkStore.Backend)
	assert.Equal(t, 64, cfg.Embedder.Dimension)

	cli.LLMProvider = "ollama"
	cli.LLMModel = "qwen2.5"
	cfg, loader, err = cli.loadConfig(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	assert.NotEmpty(t, cfg.LLM.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cli := &CLI{
		Config:         writeFile(t, t.TempDir(), "bad.yaml", "chunk_store:\n  backend: tape\n"),
		ConfigProvider: "file",
	}
	_, _, err := cli.loadConfig(t.Context())
	assert.Error(t, err)
}

func TestAskCommand(t *testing.T) {
	cli, out := newTestCLI(t)
	doc := writeFile(t, t.TempDir(), "handbook.md", "Vacation requests go to the team lead.")

	cmd := &AskCmd{Query: "vacation", Documents: []string{doc}, Mode: "auto"}
	require.NoError(t, cmd.Run(cli))
	assert.Contains(t, out.String(), "Vacation requests go to the team lead.")
	assert.Contains(t, out.String(), "Sources:\n  - "+doc)

	out.Reset()
	cmd.JSON = true
	require.NoError(t, cmd.Run(cli))
	var resp service.Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, service.ModeDirect, resp.Mode)
}

func TestPrepareCommand(t *testing.T) {
	cli, out := newTestCLI(t)
	dir := t.TempDir()
	doc := writeFile(t, dir, "notes.txt", "some notes")
	missing := filepath.Join(dir, "missing.txt")

	require.NoError(t, (&PrepareCmd{Documents: []string{doc, missing}}).Run(cli))
	assert.Contains(t, out.String(), "ok    "+doc)
	assert.Contains(t, out.String(), "fail  "+missing)

	assert.Error(t, (&PrepareCmd{Documents: []string{missing}}).Run(cli))
}

func TestValidateAndSchema(t *testing.T) {
	cli, out := newTestCLI(t)

	require.NoError(t, (&ValidateCmd{}).Run(cli))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "Chunk store: memory")

	out.Reset()
	require.NoError(t, (&SchemaCmd{Compact: true}).Run(cli))
	line := strings.TrimSpace(out.String())
	assert.NotContains(t, line, "\n")
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &schema))
	assert.Contains(t, schema, "properties")

	out.Reset()
	require.NoError(t, (&VersionCmd{}).Run(cli))
	assert.True(t, strings.HasPrefix(out.String(), "docqa "))
}

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	resp := &service.Response{
		Answer:  "Forty-two.",
		Sources: []string{"a.md"},
		Failed:  map[string]string{"z.pdf": "broken", "b.pdf": "empty"},
	}
	require.NoError(t, printResponse(&buf, resp, false))
	assert.Equal(t, "Forty-two.\n\nSources:\n  - a.md\n\nSkipped:\n  - b.pdf: empty\n  - z.pdf: broken\n", buf.String())
}
