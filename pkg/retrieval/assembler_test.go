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

package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/vector"
)

func retrieved(path string, idx int, text string, score float32) document.RetrievedChunk {
	return document.RetrievedChunk{Chunk: document.NewChunk(path, idx, text, nil), Score: score, Source: path}
}

// threeSources ranks a.pdf, then b-notes.md, then c_report.txt.
func threeSources() []document.RetrievedChunk {
	return []document.RetrievedChunk{
		retrieved("/docs/a.pdf", 0, strings.Repeat("alpha ", 10), 0.9),
		retrieved("/docs/b-notes.md", 3, strings.Repeat("beta ", 10), 0.8),
		retrieved("/docs/a.pdf", 4, strings.Repeat("aleph ", 5), 0.7),
		retrieved("/docs/c_report.txt", 1, strings.Repeat("gamma ", 10), 0.6),
	}
}

func TestGroup(t *testing.T) {
	sections := group(threeSources())
	require.Len(t, sections, 3)

	assert.Equal(t, "/docs/a.pdf", sections[0].source)
	assert.Len(t, sections[0].chunks, 2)
	assert.Equal(t, "**From a:**\n"+strings.Repeat("alpha ", 10)+ChunkSeparator+strings.Repeat("aleph ", 5), sections[0].text)
	assert.Equal(t, "**From b notes:**\n"+strings.Repeat("beta ", 10), sections[1].text)
	assert.True(t, strings.HasPrefix(sections[2].text, "**From c report:**\n"))
}

func TestLayout_Truncation(t *testing.T) {
	a := NewAssembler(nil)
	sections := group(threeSources())
	s0, s1, s2 := sections[0].text, sections[1].text, sections[2].text
	all := s0 + SectionSeparator + s1 + SectionSeparator + s2

	tests := []struct {
		name      string
		budget    int
		want      string
		sources   []string
		truncated bool
	}{
		{
			name:    "unlimited",
			budget:  0,
			want:    all,
			sources: []string{"/docs/a.pdf", "/docs/b-notes.md", "/docs/c_report.txt"},
		},
		{
			name:    "exact fit",
			budget:  len(all),
			want:    all,
			sources: []string{"/docs/a.pdf", "/docs/b-notes.md", "/docs/c_report.txt"},
		},
		{
			name:      "two of three sections",
			budget:    len(s0) + len(SectionSeparator) + len(s1) + len(MoreTruncated),
			want:      s0 + SectionSeparator + s1 + MoreTruncated,
			sources:   []string{"/docs/a.pdf", "/docs/b-notes.md"},
			truncated: true,
		},
		{
			name:      "marker must fit too",
			budget:    len(s0) + len(SectionSeparator) + len(s1) + len(MoreTruncated) - 1,
			want:      s0 + MoreTruncated,
			sources:   []string{"/docs/a.pdf"},
			truncated: true,
		},
		{
			name:      "none fit",
			budget:    40,
			want:      s0[:40-len(ContextTruncated)] + ContextTruncated,
			sources:   []string{"/docs/a.pdf"},
			truncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := a.layout(threeSources(), tt.budget)
			assert.Equal(t, tt.want, b.Text)
			assert.Equal(t, tt.sources, b.Sources)
			assert.Equal(t, tt.truncated, b.Truncated)
			if tt.budget > 0 {
				assert.LessOrEqual(t, len(b.Text), tt.budget)
			}
		})
	}
}

func TestLayout_MarkersDiffer(t *testing.T) {
	a := NewAssembler(nil)
	none := a.layout(threeSources(), 30)
	some := a.layout(threeSources(), 200)

	assert.True(t, strings.HasSuffix(none.Text, "[Context truncated]"))
	assert.True(t, strings.HasSuffix(some.Text, "[Additional context truncated]"))
	assert.NotContains(t, none.Text, "Additional")
}

func TestLayout_BudgetBound(t *testing.T) {
	a := NewAssembler(nil)
	for budget := len(ContextTruncated); budget < 400; budget++ {
		b := a.layout(threeSources(), budget)
		require.LessOrEqual(t, len(b.Text), budget, "budget %d", budget)
		require.NotEmpty(t, b.Sources, "budget %d", budget)
	}
}

func TestLayout_HardCutKeepsUTF8(t *testing.T) {
	a := NewAssembler(nil)
	chunks := []document.RetrievedChunk{retrieved("/docs/ü.md", 0, strings.Repeat("çğüşöı", 20), 1)}
	for budget := len(ContextTruncated); budget < 80; budget++ {
		b := a.layout(chunks, budget)
		assert.True(t, utf8.ValidString(b.Text), "budget %d", budget)
		assert.LessOrEqual(t, len(b.Text), budget)
	}
}

func TestLayout_TinyBudget(t *testing.T) {
	b := NewAssembler(nil).layout(threeSources(), 5)
	assert.LessOrEqual(t, len(b.Text), 5)
	assert.True(t, b.Truncated)
}

func TestLayout_Empty(t *testing.T) {
	b := NewAssembler(nil).layout(nil, 100)
	assert.Empty(t, b.Text)
	assert.Empty(t, b.Sources)
	assert.False(t, b.Truncated)
}

func TestByteMeasurer_Truncate(t *testing.T) {
	m := ByteMeasurer{}
	assert.Equal(t, "", m.Truncate("abc", 0))
	assert.Equal(t, "ab", m.Truncate("abc", 2))
	assert.Equal(t, "abc", m.Truncate("abc", 10))
	assert.Equal(t, "a", m.Truncate("aé", 2))
	assert.Equal(t, "aé", m.Truncate("aé", 3))
}

func TestTokenMeasurer(t *testing.T) {
	m, err := NewTokenMeasurer("cl100k_base")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	text := strings.Repeat("retrieval augmented generation ", 20)
	total := m.Measure(text)
	require.Greater(t, total, 10)

	cut := m.Truncate(text, 10)
	assert.LessOrEqual(t, m.Measure(cut), 10)
	assert.True(t, strings.HasPrefix(text, cut))

	a := NewAssembler(nil, WithMeasurer(m))
	for _, budget := range []int{12, 20, 50, 500} {
		b := a.layout(threeSources(), budget)
		assert.LessOrEqual(t, m.Measure(b.Text), budget, "budget %d", budget)
	}
}

func TestNewMeasurer(t *testing.T) {
	m, err := NewMeasurer("", "")
	require.NoError(t, err)
	assert.Equal(t, "bytes", m.Unit())

	_, err = NewMeasurer("words", "")
	assert.Error(t, err)
}

type lineParser struct{}

func (lineParser) Parse(_ context.Context, path string) ([]document.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunks []document.Chunk
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		chunks = append(chunks, document.NewChunk(path, len(chunks), line, nil))
	}
	return chunks, nil
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	install := filepath.Join(dir, "install-guide.md")
	finance := filepath.Join(dir, "finance.txt")
	require.NoError(t, os.WriteFile(install, []byte("install the cli with brew\nconfigure the cli profile\n"), 0o644))
	require.NoError(t, os.WriteFile(finance, []byte("revenue grew twelve percent\ncosts were flat\n"), 0o644))

	vectors, err := vector.NewChromemStore(vector.ChromemOptions{}, embedder.NewHash(128))
	require.NoError(t, err)
	cache := index.New(chunkstore.New(chunkstore.NewMemoryBackend()), lineParser{}, vectors)
	a := NewAssembler(cache, WithTopK(1))

	t.Run("single document", func(t *testing.T) {
		b, err := a.Assemble(ctx, "install the cli", []string{install}, 0)
		require.NoError(t, err)
		assert.Equal(t, "**From install guide:**\ninstall the cli with brew", b.Text)
		assert.Equal(t, []string{install}, b.Sources)
		require.Len(t, b.Chunks, 1)
	})

	t.Run("multiple documents scale top k", func(t *testing.T) {
		b, err := a.Assemble(ctx, "revenue", []string{install, finance}, 0)
		require.NoError(t, err)
		assert.Len(t, b.Chunks, 2)
		assert.Equal(t, finance, b.Sources[0])
		assert.True(t, strings.HasPrefix(b.Text, "**From finance:**\nrevenue grew twelve percent"))
	})

	t.Run("failed document skipped", func(t *testing.T) {
		b, err := a.Assemble(ctx, "revenue", []string{filepath.Join(dir, "missing.pdf"), finance}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{finance}, b.Sources)
	})

	t.Run("all documents fail", func(t *testing.T) {
		_, err := a.Assemble(ctx, "revenue", []string{filepath.Join(dir, "missing.pdf")}, 0)
		var perr *index.ParseError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("no documents", func(t *testing.T) {
		_, err := a.Assemble(ctx, "revenue", nil, 0)
		assert.Error(t, err)
	})
}
