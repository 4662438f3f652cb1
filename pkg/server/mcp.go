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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/service"
)

// MCP tools that exist regardless of the prepared documents.
const (
	AskToolName       = "ask_documents"
	PrepareToolName   = "prepare_documents"
	DocumentsToolName = "list_documents"
)

const mcpInstructions = `This server answers questions about local documents.
Call prepare_documents with file paths first. Each prepared document gets its own query_<name>_tool.
Use ask_documents to question several documents at once.`

// MCPServer exposes a Service as Model Context Protocol tools. Every
// prepared document is published as its own tool.
type MCPServer struct {
	service *service.Service
	server  *mcpserver.MCPServer

	mu        sync.Mutex
	published map[string]bool
}

// NewMCPServer creates an MCP server for svc.
func NewMCPServer(svc *service.Service, version string) *MCPServer {
	s := &MCPServer{
		service:   svc,
		published: make(map[string]bool),
		server: mcpserver.NewMCPServer(
			"docqa",
			version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithRecovery(),
			mcpserver.WithInstructions(mcpInstructions),
		),
	}

	s.server.AddTool(mcp.NewTool(AskToolName,
		mcp.WithDescription("Answer a question using one or more documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question")),
		mcp.WithArray("documents", mcp.Required(), mcp.WithStringItems(), mcp.Description("Document file paths")),
		mcp.WithString("mode", mcp.Enum("auto", "direct", "context", "agent"), mcp.Description("Answering route")),
	), s.handleAsk)

	s.server.AddTool(mcp.NewTool(PrepareToolName,
		mcp.WithDescription("Parse and index documents and publish a query tool for each."),
		mcp.WithArray("documents", mcp.Required(), mcp.WithStringItems(), mcp.Description("Document file paths")),
	), s.handlePrepare)

	s.server.AddTool(mcp.NewTool(DocumentsToolName,
		mcp.WithDescription("List the prepared documents."),
	), s.handleDocuments)

	return s
}

// Prepare builds documents and publishes their tools.
func (s *MCPServer) Prepare(ctx context.Context, paths []string) index.PrepareResult {
	result := s.service.Prepare(ctx, paths)
	s.sync()
	return result
}

// Published returns the names of the published document tools.
func (s *MCPServer) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.published))
	for name := range s.published {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeStdio serves the protocol on in/out until ctx is cancelled or in
// is closed.
func (s *MCPServer) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("MCP server listening on stdio", "tools", len(s.Published()))
	return mcpserver.NewStdioServer(s.server).Listen(ctx, in, out)
}

// sync publishes tools for new documents and withdraws tools whose
// documents were forgotten.
func (s *MCPServer) sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, t := range s.service.Registry().Documents() {
		name := t.Name()
		current[name] = true
		if s.published[name] {
			continue
		}
		s.server.AddTool(mcp.NewTool(name,
			mcp.WithDescription(t.Description()),
			mcp.WithString("query", mcp.Required(), mcp.Description("What to look for in "+t.DisplayName())),
		), s.documentHandler(name))
		s.published[name] = true
	}

	var stale []string
	for name := range s.published {
		if !current[name] {
			stale = append(stale, name)
			delete(s.published, name)
		}
	}
	if len(stale) > 0 {
		s.server.DeleteTools(stale...)
	}
}

func (s *MCPServer) documentHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := s.service.Registry().Invoke(ctx, name, query)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("document search failed", err), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func (s *MCPServer) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := service.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.service.Query(ctx, service.Request{
		Query:         query,
		DocumentPaths: req.GetStringSlice("documents", nil),
		Mode:          mode,
	})
	s.sync()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("query failed", err), nil
	}

	var b strings.Builder
	b.WriteString(resp.Answer)
	if len(resp.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, src := range resp.Sources {
			b.WriteString("\n- ")
			b.WriteString(src)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePrepare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := req.GetStringSlice("documents", nil)
	if len(paths) == 0 {
		return mcp.NewToolResultError("documents is required"), nil
	}

	result := s.Prepare(ctx, paths)

	var b strings.Builder
	fmt.Fprintf(&b, "Prepared %d of %d documents.", len(result.Succeeded), len(result.Succeeded)+len(result.Failed))
	for _, p := range sortedErrorKeys(result.Failed) {
		fmt.Fprintf(&b, "\n- %s: %v", p, result.Failed[p])
	}
	if tools := s.Published(); len(tools) > 0 {
		fmt.Fprintf(&b, "\nDocument tools: %s", strings.Join(tools, ", "))
	}

	if len(result.Succeeded) == 0 {
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.service.Documents(), "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func sortedErrorKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
