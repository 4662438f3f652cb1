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
	"net/http"
	"strings"

	"github.com/kadirpekel/docqa/pkg/httpclient"
)

const openAIBatchSize = 100

// OpenAI embeds through an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client    *httpclient.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
}

func NewOpenAI(client *httpclient.Client, baseURL, apiKey, model string, dimension int) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimension == 0 {
		dimension = 1536
	}
	return &OpenAI{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, dimension: dimension}
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIBatchSize {
		end := min(start+openAIBatchSize, len(texts))
		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openAIRequest{Model: e.model, Input: texts}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = &e.dimension
	}
	header := http.Header{"Authorization": {"Bearer " + e.apiKey}}

	var resp openAIResponse
	if err := e.client.PostJSON(ctx, e.baseURL+"/embeddings", header, req, &resp); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (e *OpenAI) Dimension() int { return e.dimension }
func (e *OpenAI) Model() string  { return e.model }
