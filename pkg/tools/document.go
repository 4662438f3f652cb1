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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/retrieval"
)

// Assembler builds budgeted context for a set of documents.
type Assembler interface {
	Assemble(ctx context.Context, query string, paths []string, budget int) (*retrieval.Bundle, error)
}

const synthesisPrompt = `You answer questions about a single document using only the excerpts provided.
If the excerpts do not contain the answer, say so plainly.
Quote figures, names and section titles exactly as they appear.`

// DocumentOption configures a document tool.
type DocumentOption func(*documentTool)

// WithSynthesis makes the tool answer with model instead of returning
// the raw excerpts.
func WithSynthesis(model llm.Model) DocumentOption {
	return func(t *documentTool) {
		t.model = model
	}
}

// WithDescription overrides the default tool description.
func WithDescription(desc string) DocumentOption {
	return func(t *documentTool) {
		if desc != "" {
			t.description = desc
		}
	}
}

type documentTool struct {
	path        string
	name        string
	display     string
	description string
	budget      int
	assembler   Assembler
	model       llm.Model
}

// NewDocumentTool returns the search tool for one document.
func NewDocumentTool(path string, assembler Assembler, budget int, opts ...DocumentOption) DocumentTool {
	display := document.DisplayName(path)
	t := &documentTool{
		path:        path,
		name:        ToolName(path),
		display:     display,
		description: DocumentDescription(path),
		budget:      budget,
		assembler:   assembler,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DocumentDescription is the default description of a document tool.
func DocumentDescription(path string) string {
	return fmt.Sprintf("Search and answer questions about %q (file: %s).", document.DisplayName(path), filepath.Base(path))
}

func (t *documentTool) Name() string         { return t.name }
func (t *documentTool) Description() string  { return t.description }
func (t *documentTool) DocumentPath() string { return t.path }
func (t *documentTool) DisplayName() string  { return t.display }

func (t *documentTool) Execute(ctx context.Context, in Input) (string, error) {
	bundle, err := t.assembler.Assemble(ctx, in.Query, []string{t.path}, t.budget)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(bundle.Text) == "" {
		return fmt.Sprintf("No relevant passages found in %s for %q.", t.display, in.Query), nil
	}
	if t.model == nil {
		return bundle.Text, nil
	}

	prompt := fmt.Sprintf("Document: %s\n\nExcerpts:\n%s\n\nQuestion: %s", t.display, bundle.Text, in.Query)
	answer, err := llm.Collect(ctx, t.model, synthesisPrompt, []llm.Message{llm.User(prompt)})
	if err != nil {
		return "", fmt.Errorf("synthesize answer for %s: %w", t.display, err)
	}
	return strings.TrimSpace(answer), nil
}
