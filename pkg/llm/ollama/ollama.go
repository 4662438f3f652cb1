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

// Package ollama implements llm.StreamingModel over Ollama's chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/docqa/pkg/httpclient"
	"github.com/kadirpekel/docqa/pkg/llm"
)

const (
	defaultBaseURL   = "http://localhost:11434"
	defaultModel     = "llama3.2"
	defaultTimeout   = 300 * time.Second // first requests load the model
	defaultKeepAlive = "5m"
)

// Config configures the Ollama client.
type Config struct {
	BaseURL     string
	Model       string
	Temperature *float64

	// NumPredict limits the number of generated tokens.
	NumPredict int

	// Stop sequences end generation early.
	Stop []string

	KeepAlive  string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an Ollama server.
type Client struct {
	httpClient  *httpclient.Client
	baseURL     string
	modelName   string
	temperature *float64
	numPredict  int
	stop        []string
	keepAlive   string
}

// New creates a new Ollama client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	return &Client{
		httpClient:  hc,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		modelName:   modelName,
		temperature: cfg.Temperature,
		numPredict:  cfg.NumPredict,
		stop:        cfg.Stop,
		keepAlive:   keepAlive,
	}
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	Options   *chatOptions  `json:"options,omitempty"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
	Error           string       `json:"error,omitempty"`
}

func (c *Client) buildRequest(system string, transcript []llm.Message, stream bool) *chatRequest {
	messages := make([]chatMessage, 0, len(transcript)+1)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	for _, m := range transcript {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	req := &chatRequest{
		Model:     c.modelName,
		Messages:  messages,
		Stream:    stream,
		KeepAlive: c.keepAlive,
	}
	if c.temperature != nil || c.numPredict > 0 || len(c.stop) > 0 {
		req.Options = &chatOptions{Temperature: c.temperature, NumPredict: c.numPredict, Stop: c.stop}
	}
	return req
}

// Complete performs a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, system string, transcript []llm.Message) (string, error) {
	var resp chatResponse
	if err := c.httpClient.PostJSON(ctx, c.baseURL+"/api/chat", nil, c.buildRequest(system, transcript, false), &resp); err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}
	if resp.Message == nil {
		return "", nil
	}
	return resp.Message.Content, nil
}

// Stream yields content deltas as Ollama produces them.
func (c *Client) Stream(ctx context.Context, system string, transcript []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(c.buildRequest(system, transcript, true))
		if err != nil {
			yield("", fmt.Errorf("failed to marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("failed to create request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			yield("", &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))})
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var chunk chatResponse
				if jerr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jerr == nil {
					if chunk.Error != "" {
						yield("", fmt.Errorf("ollama error: %s", chunk.Error))
						return
					}
					if chunk.Message != nil && chunk.Message.Content != "" {
						if !yield(chunk.Message.Content, nil) {
							return
						}
					}
					if chunk.Done {
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					yield("", fmt.Errorf("stream read error: %w", err))
				}
				return
			}
		}
	}
}

var _ llm.StreamingModel = (*Client)(nil)
