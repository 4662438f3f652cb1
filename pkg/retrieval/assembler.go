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

// Package retrieval assembles ranked chunks from one or more documents
// into a single budgeted context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/vector"
)

// Section layout and truncation markers.
const (
	SectionSeparator = "\n\n---\n\n"
	ChunkSeparator   = "\n\n"
	ContextTruncated = "...\n\n[Context truncated]"
	MoreTruncated    = "\n\n[Additional context truncated]"
)

// Error reports a failed similarity search over built documents.
type Error struct {
	Paths []string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval over %s failed: %v", strings.Join(e.Paths, ", "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bundle is an assembled context.
type Bundle struct {
	Text string `json:"text"`

	// Chunks are the retrieved chunks whose sections made it into Text.
	Chunks []document.RetrievedChunk `json:"chunks"`

	// Sources are the document paths whose sections made it into Text,
	// in rank order.
	Sources   []string `json:"sources"`
	Truncated bool     `json:"truncated"`
}

// Source provides document handles and the vector store they share.
type Source interface {
	GetOrBuild(ctx context.Context, path string) (*index.Handle, error)
	Vectors() vector.Store
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTopK sets the number of chunks retrieved per document.
func WithTopK(k int) Option {
	return func(a *Assembler) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithMeasurer sets how text is sized against the budget.
func WithMeasurer(m Measurer) Option {
	return func(a *Assembler) {
		if m != nil {
			a.measurer = m
		}
	}
}

// Assembler retrieves and lays out context for a query.
type Assembler struct {
	source   Source
	topK     int
	measurer Measurer
}

// NewAssembler creates an assembler over source.
func NewAssembler(source Source, opts ...Option) *Assembler {
	a := &Assembler{source: source, topK: 5, measurer: ByteMeasurer{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Measurer returns the measurer in use.
func (a *Assembler) Measurer() Measurer {
	return a.measurer
}

// Assemble retrieves the chunks most relevant to query from paths and
// lays them out within budget. A budget of zero or less disables
// truncation.
//
// Documents that fail to build are skipped; an error is returned only
// when none of them could be built.
func (a *Assembler) Assemble(ctx context.Context, query string, paths []string, budget int) (*Bundle, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no documents to search")
	}

	var (
		ready []string
		errs  []error
		first *index.Handle
	)
	for _, p := range paths {
		h, err := a.source.GetOrBuild(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Skipping document", "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		if first == nil {
			first = h
		}
		ready = append(ready, h.Path)
	}
	if len(ready) == 0 {
		return nil, errors.Join(errs...)
	}

	var (
		chunks []document.RetrievedChunk
		err    error
	)
	if len(ready) == 1 {
		chunks, err = first.Retrieve(ctx, query, a.topK)
	} else {
		chunks, err = a.source.Vectors().Retrieve(ctx, query, a.topK*len(ready), vector.Filter{Sources: ready})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Paths: ready, Err: err}
	}

	return a.layout(chunks, budget), nil
}

type section struct {
	source string
	text   string
	chunks []document.RetrievedChunk
}

// group collects chunks per source in order of each source's first
// appearance in the ranking.
func group(chunks []document.RetrievedChunk) []section {
	var sections []section
	pos := make(map[string]int)
	for _, c := range chunks {
		src := c.Source
		if src == "" {
			src = c.Chunk.Source()
		}
		i, ok := pos[src]
		if !ok {
			i = len(sections)
			pos[src] = i
			sections = append(sections, section{source: src})
		}
		sections[i].chunks = append(sections[i].chunks, c)
	}

	for i := range sections {
		texts := make([]string, len(sections[i].chunks))
		for j, c := range sections[i].chunks {
			texts[j] = c.Text
		}
		sections[i].text = "**From " + document.DisplayName(sections[i].source) + ":**\n" +
			strings.Join(texts, ChunkSeparator)
	}
	return sections
}

func (a *Assembler) layout(chunks []document.RetrievedChunk, budget int) *Bundle {
	sections := group(chunks)
	bundle := &Bundle{}
	if len(sections) == 0 {
		return bundle
	}

	m := a.measurer
	var text string
	included := 0
	for i, s := range sections {
		candidate := s.text
		if included > 0 {
			candidate = text + SectionSeparator + s.text
		}
		trial := candidate
		if i < len(sections)-1 {
			trial += MoreTruncated
		}
		if budget > 0 && m.Measure(trial) > budget {
			break
		}
		text = candidate
		included++
	}

	switch {
	case included == 0:
		text = a.hardCut(sections[0].text, budget)
		included = 1
		bundle.Truncated = true
	case included < len(sections):
		text += MoreTruncated
		bundle.Truncated = true
	}

	bundle.Text = text
	for _, s := range sections[:included] {
		bundle.Sources = append(bundle.Sources, filepath.Clean(s.source))
		bundle.Chunks = append(bundle.Chunks, s.chunks...)
	}
	return bundle
}

// hardCut shortens text so that text plus the truncation suffix fits
// budget.
func (a *Assembler) hardCut(text string, budget int) string {
	m := a.measurer
	suffixSize := m.Measure(ContextTruncated)
	if budget < suffixSize {
		return m.Truncate(ContextTruncated, budget)
	}
	for n := budget - suffixSize; n >= 0; n-- {
		out := m.Truncate(text, n) + ContextTruncated
		if m.Measure(out) <= budget {
			return out
		}
	}
	return m.Truncate(ContextTruncated, budget)
}
