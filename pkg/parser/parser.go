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

// Package parser turns document files into chunks.
//
// Extractors read a file into sections (a PDF page, a spreadsheet sheet,
// a whole text file); the chunker splits sections into line-aligned chunks
// with overlap.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/docqa/pkg/document"
)

var (
	// ErrUnsupported is returned for file types no extractor handles.
	ErrUnsupported = errors.New("unsupported document type")

	// ErrEmpty is returned when a file yields no text.
	ErrEmpty = errors.New("no content could be extracted")
)

// Parser converts a document into chunks.
type Parser interface {
	Parse(ctx context.Context, path string) ([]document.Chunk, error)
}

// Section is a contiguous piece of extracted text with its metadata.
type Section struct {
	Text     string
	Metadata map[string]string
}

// Extractor reads the sections of one kind of file.
type Extractor interface {
	Extensions() []string
	Extract(ctx context.Context, path string) ([]Section, error)
}

// Options configures a Composite parser.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// MaxFileSize rejects larger files; 0 disables the check.
	MaxFileSize int64
}

// Composite dispatches to an extractor by file extension and chunks the
// result.
type Composite struct {
	extractors map[string]Extractor
	chunker    *Chunker
	maxSize    int64
}

// New returns a parser with the PDF, office and text extractors.
func New(opts Options) *Composite {
	p := &Composite{
		extractors: make(map[string]Extractor),
		chunker:    NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		maxSize:    opts.MaxFileSize,
	}
	p.Register(&PDFExtractor{})
	p.Register(&OfficeExtractor{})
	p.Register(&TextExtractor{})
	return p
}

// Register adds or replaces the extractor for its extensions.
func (p *Composite) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		p.extractors[strings.ToLower(ext)] = e
	}
}

// Supports reports whether path has a registered extension.
func (p *Composite) Supports(path string) bool {
	_, ok := p.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions.
func (p *Composite) Extensions() []string {
	exts := make([]string, 0, len(p.extractors))
	for ext := range p.extractors {
		exts = append(exts, ext)
	}
	return exts
}

func (p *Composite) Parse(ctx context.Context, path string) ([]document.Chunk, error) {
	start := time.Now()

	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := p.extractors[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if p.maxSize > 0 && info.Size() > p.maxSize {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), p.maxSize)
	}

	sections, err := extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	var chunks []document.Chunk
	for _, section := range sections {
		for _, text := range p.chunker.Split(section.Text) {
			chunks = append(chunks, document.NewChunk(path, len(chunks), text, section.Metadata))
		}
	}
	if len(chunks) == 0 {
		return nil, ErrEmpty
	}

	slog.Debug("Parsed document",
		"path", path,
		"sections", len(sections),
		"chunks", len(chunks),
		"duration", time.Since(start))
	return chunks, nil
}

var _ Parser = (*Composite)(nil)
