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

package config

import (
	"fmt"
	"time"
)

// RetrievalConfig controls context assembly.
type RetrievalConfig struct {
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"default=5"`

	// Budget is the maximum context size in the measure's unit.
	Budget int `yaml:"budget,omitempty" json:"budget,omitempty" jsonschema:"default=12000"`

	// Measure is bytes or tokens.
	Measure string `yaml:"measure,omitempty" json:"measure,omitempty" jsonschema:"enum=bytes,enum=tokens,default=bytes"`

	// Encoding is the tiktoken encoding used by the tokens measure.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Measure == "" {
		c.Measure = "bytes"
	}
	if c.Budget == 0 {
		if c.Measure == "tokens" {
			c.Budget = 3000
		} else {
			c.Budget = 12000
		}
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	if !oneOf(c.Measure, "bytes", "tokens") {
		return fmt.Errorf("invalid measure %q (valid: bytes, tokens)", c.Measure)
	}
	return nil
}

// ToolsConfig controls the tools exposed to the agent.
type ToolsConfig struct {
	// FallbackQuery replaces empty tool inputs.
	FallbackQuery string `yaml:"fallback_query,omitempty" json:"fallback_query,omitempty" jsonschema:"default=overview"`

	// Synthesize makes document tools answer with the LLM instead of
	// returning raw passages.
	Synthesize *bool `yaml:"synthesize,omitempty" json:"synthesize,omitempty" jsonschema:"default=true"`

	Planner   *bool           `yaml:"planner,omitempty" json:"planner,omitempty" jsonschema:"default=true"`
	WebSearch WebSearchConfig `yaml:"web_search,omitempty" json:"web_search,omitempty"`
}

// WebSearchConfig enables the web_search tool against a SearXNG-style
// JSON endpoint.
type WebSearchConfig struct {
	Enabled    bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	URL        string        `yaml:"url,omitempty" json:"url,omitempty"`
	MaxResults int           `yaml:"max_results,omitempty" json:"max_results,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *ToolsConfig) SetDefaults() {
	if c.FallbackQuery == "" {
		c.FallbackQuery = "overview"
	}
	if c.Synthesize == nil {
		c.Synthesize = BoolPtr(true)
	}
	if c.Planner == nil {
		c.Planner = BoolPtr(true)
	}
	if c.WebSearch.MaxResults == 0 {
		c.WebSearch.MaxResults = 5
	}
	if c.WebSearch.Timeout == 0 {
		c.WebSearch.Timeout = 15 * time.Second
	}
}

func (c *ToolsConfig) Validate() error {
	if c.WebSearch.Enabled && c.WebSearch.URL == "" {
		return fmt.Errorf("web_search.url is required when web_search is enabled")
	}
	return nil
}

// AgentConfig controls the reasoning loop.
type AgentConfig struct {
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=60s"`
	MaxIterations int           `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"default=8"`

	// DirectSingleDocument answers single-document queries by calling the
	// document tool without the loop.
	DirectSingleDocument *bool `yaml:"direct_single_document,omitempty" json:"direct_single_document,omitempty" jsonschema:"default=true"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.DirectSingleDocument == nil {
		c.DirectSingleDocument = BoolPtr(true)
	}
}

func (c *AgentConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	return nil
}

// RetryConfig controls tool call retries.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=2"`
	BaseDelay  time.Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty" jsonschema:"default=1s"`
	MaxDelay   time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty" jsonschema:"default=30s"`
	Jitter     bool          `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

func (c *RetryConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
}

func (c *RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay must not be less than base_delay")
	}
	return nil
}

// CacheConfig controls the response cache for structured queries.
type CacheConfig struct {
	Enabled       *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	TTL           time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"default=5m"`
	MaxEntries    int           `yaml:"max_entries,omitempty" json:"max_entries,omitempty" jsonschema:"default=1000"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty" jsonschema:"default=1m"`
}

func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1000
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

func (c *CacheConfig) Validate() error {
	if c.TTL < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("ttl and sweep_interval must be non-negative")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries must be non-negative")
	}
	return nil
}
