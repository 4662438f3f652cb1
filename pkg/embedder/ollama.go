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

package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kadirpekel/docqa/pkg/httpclient"
)

// Ollama's runner can crash on concurrent embedding requests.
var ollamaMu sync.Mutex

// Ollama embeds through a local Ollama server's /api/embed.
type Ollama struct {
	client    *httpclient.Client
	baseURL   string
	model     string
	dimension int
}

func NewOllama(client *httpclient.Client, baseURL, model string, dimension int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dimension == 0 {
		dimension = 768
	}
	return &Ollama{client: client, baseURL: strings.TrimRight(baseURL, "/"), model: model, dimension: dimension}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ollamaMu.Lock()
	defer ollamaMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.model, "count", len(texts))

	var resp ollamaEmbedResponse
	err := e.client.PostJSON(ctx, e.baseURL+"/api/embed", nil, ollamaEmbedRequest{Model: e.model, Input: texts}, &resp)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Ollama) Dimension() int { return e.dimension }
func (e *Ollama) Model() string  { return e.model }
