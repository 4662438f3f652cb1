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
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/tools"
)

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCPServer_PublishesDocumentTools(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	s := NewMCPServer(svc, "test")
	doc := writeDoc(t, "field-guide.md", "Owls hunt at night.")

	res, err := s.handlePrepare(ctx, callRequest(PrepareToolName, map[string]any{"documents": []any{doc}}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Prepared 1 of 1 documents.")

	name := tools.ToolName(doc)
	assert.Equal(t, []string{name}, s.Published())

	res, err = s.documentHandler(name)(ctx, callRequest(name, map[string]any{"query": "owls"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Owls hunt at night.")

	res, err = s.documentHandler(name)(ctx, callRequest(name, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleDocuments(ctx, callRequest(DocumentsToolName, nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), doc)

	require.NoError(t, svc.Forget(ctx, doc))
	s.sync()
	assert.Empty(t, s.Published())
}

func TestMCPServer_Ask(t *testing.T) {
	ctx := context.Background()
	s := NewMCPServer(newTestService(t), "test")
	doc := writeDoc(t, "notes.md", "The meeting moved to Friday.")

	res, err := s.handleAsk(ctx, callRequest(AskToolName, map[string]any{
		"query":     "when is the meeting",
		"documents": []any{doc},
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Friday")
	assert.Contains(t, text, "Sources:\n- "+doc)
	assert.Equal(t, []string{tools.ToolName(doc)}, s.Published())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{"documents": []any{doc}}},
		{"missing documents", map[string]any{"query": "q"}},
		{"bad mode", map[string]any{"query": "q", "documents": []any{doc}, "mode": "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleAsk(ctx, callRequest(AskToolName, tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestMCPServer_PrepareFailures(t *testing.T) {
	ctx := context.Background()
	s := NewMCPServer(newTestService(t), "test")

	res, err := s.handlePrepare(ctx, callRequest(PrepareToolName, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handlePrepare(ctx, callRequest(PrepareToolName, map[string]any{"documents": []any{"/nonexistent/x.md"}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Prepared 0 of 1 documents.")
}
