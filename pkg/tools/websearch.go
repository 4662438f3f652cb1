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
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/docqa/pkg/httpclient"
)

// WebSearchName is the name of the web search tool.
const WebSearchName = "web_search"

// WebSearchConfig configures WebSearch.
type WebSearchConfig struct {
	// URL is the search endpoint, e.g. http://localhost:8888/search.
	URL        string
	MaxResults int
	Timeout    time.Duration
}

// WebSearch queries a SearXNG-compatible JSON endpoint.
type WebSearch struct {
	cfg    WebSearchConfig
	client *httpclient.Client
}

// NewWebSearch creates the web search tool.
func NewWebSearch(cfg WebSearchConfig) *WebSearch {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &WebSearch{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithTimeout(cfg.Timeout), httpclient.WithMaxRetries(1)),
	}
}

func (w *WebSearch) Name() string { return WebSearchName }

func (w *WebSearch) Description() string {
	return "Search the web for information not contained in the documents. Input: a search query."
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (w *WebSearch) Execute(ctx context.Context, in Input) (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid web search url: %w", err)
	}
	q := u.Query()
	q.Set("q", in.Query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	var resp searchResponse
	if err := w.client.GetJSON(ctx, u.String(), nil, &resp); err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No web results for %q.", in.Query), nil
	}

	var b strings.Builder
	for i, r := range resp.Results {
		if i == w.cfg.MaxResults {
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s", i+1, r.Title, r.URL)
		if c := strings.TrimSpace(r.Content); c != "" {
			b.WriteString("\n")
			b.WriteString(c)
		}
	}
	return b.String(), nil
}
