// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
)

// ChromemOptions configures the embedded store.
type ChromemOptions struct {
	Collection string

	// PersistPath enables on-disk persistence. Empty keeps vectors in
	// memory only.
	PersistPath string
	Compress    bool
}

// ChromemStore is an embedded Store backed by chromem-go. It needs no
// external service; all vectors are held in memory.
type ChromemStore struct {
	db       *chromem.DB
	col      *chromem.Collection
	embedder embedder.Embedder
}

// NewChromemStore opens (or creates) the collection named in opts.
func NewChromemStore(opts ChromemOptions, emb embedder.Embedder) (*ChromemStore, error) {
	if opts.Collection == "" {
		opts.Collection = "docqa"
	}

	var db *chromem.DB
	if opts.PersistPath != "" {
		if err := os.MkdirAll(opts.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(opts.PersistPath, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database at %s: %w", opts.PersistPath, err)
		}
		slog.Debug("Opened persistent vector database", "path", opts.PersistPath)
	} else {
		db = chromem.NewDB()
	}

	// Vectors are always computed by our embedder before they reach chromem.
	precomputed := func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	col, err := db.GetOrCreateCollection(opts.Collection, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", opts.Collection, err)
	}

	return &ChromemStore{db: db, col: col, embedder: emb}, nil
}

// Name returns the store name.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Insert embeds and adds chunks. Chunks with an existing ID replace it.
func (s *ChromemStore) Insert(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts(chunks))
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Metadata:  c.Metadata,
			Embedding: vectors[i],
		}
	}

	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Retrieve returns the topK chunks most similar to query. A filter with
// several sources queries each one and merges the results.
func (s *ChromemStore) Retrieve(ctx context.Context, query string, topK int, filter Filter) ([]document.RetrievedChunk, error) {
	count := s.col.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	n := min(topK, count)

	if len(filter.Sources) == 0 {
		results, err := s.col.QueryEmbedding(ctx, vec, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		return rank(convertChromemResults(results), topK), nil
	}

	var merged []document.RetrievedChunk
	for _, source := range filter.Sources {
		results, err := s.col.QueryEmbedding(ctx, vec, n, map[string]string{document.MetaSource: source}, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed for %s: %w", source, err)
		}
		merged = append(merged, convertChromemResults(results)...)
	}
	return rank(merged, topK), nil
}

// DeleteSource removes every chunk of path.
func (s *ChromemStore) DeleteSource(ctx context.Context, path string) error {
	if err := s.col.Delete(ctx, map[string]string{document.MetaSource: path}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", path, err)
	}
	return nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemStore) Close() error {
	return nil
}

func convertChromemResults(results []chromem.Result) []document.RetrievedChunk {
	out := make([]document.RetrievedChunk, 0, len(results))
	for _, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out = append(out, document.RetrievedChunk{
			Chunk:  document.Chunk{ID: r.ID, Text: r.Content, Metadata: meta},
			Score:  r.Similarity,
			Source: meta[document.MetaSource],
		})
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
