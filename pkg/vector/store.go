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

// Package vector stores chunk embeddings and answers similarity queries.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
)

// Filter restricts a retrieval. An empty filter matches every chunk.
type Filter struct {
	Sources []string
}

// Store is a vector index over document chunks. Implementations embed
// text with their own embedder.
type Store interface {
	Insert(ctx context.Context, chunks []document.Chunk) error
	Retrieve(ctx context.Context, query string, topK int, filter Filter) ([]document.RetrievedChunk, error)
	DeleteSource(ctx context.Context, path string) error
	Name() string
	Close() error
}

// New builds the store selected by cfg.
func New(cfg config.VectorConfig, emb embedder.Embedder) (Store, error) {
	switch cfg.Type {
	case "chromem", "":
		return NewChromemStore(ChromemOptions{
			Collection:  cfg.Collection,
			PersistPath: cfg.PersistPath,
			Compress:    cfg.Compress,
		}, emb)
	case "qdrant":
		return NewQdrantStore(QdrantOptions{
			Collection: cfg.Collection,
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
		}, emb)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}

func texts(chunks []document.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// rank orders results by descending score, ties broken by source and
// chunk position, and keeps the first topK.
func rank(results []document.RetrievedChunk, topK int) []document.RetrievedChunk {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].Index() < results[j].Index()
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
