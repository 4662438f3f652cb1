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

// Package embedder turns text into vectors for semantic search.
package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/httpclient"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// New builds the embedder selected by cfg.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	client := httpclient.New(httpclient.WithTimeout(cfg.Timeout), httpclient.WithBaseDelay(500*time.Millisecond))

	switch cfg.Provider {
	case "ollama":
		return NewOllama(client, cfg.BaseURL, cfg.Model, cfg.Dimension), nil
	case "openai":
		return NewOpenAI(client, cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension), nil
	case "hash":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
