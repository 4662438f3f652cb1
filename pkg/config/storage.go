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

// Chunk store backends.
const (
	ChunkStoreMemory = "memory"
	ChunkStoreFile   = "file"
	ChunkStoreSQL    = "sql"
)

// ChunkStoreConfig selects where parsed chunks are persisted.
type ChunkStoreConfig struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=file,enum=sql,default=file"`

	// Dir is the directory of the file backend.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Table is the table of the sql backend.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

func (c *ChunkStoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = ChunkStoreFile
	}
	if c.Dir == "" {
		c.Dir = ".docqa/chunks"
	}
	if c.Table == "" {
		c.Table = "parsed_documents"
	}
}

func (c *ChunkStoreConfig) Validate() error {
	if !oneOf(c.Backend, ChunkStoreMemory, ChunkStoreFile, ChunkStoreSQL) {
		return fmt.Errorf("invalid backend %q (valid: memory, file, sql)", c.Backend)
	}
	return nil
}

// VectorConfig selects the vector index.
//
//	vector:
//	  type: qdrant
//	  host: localhost
//	  port: 6334
type VectorConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=chromem,enum=qdrant,default=chromem"`

	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	// PersistPath enables on-disk persistence for chromem.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty" json:"compress,omitempty"`

	Host   string `yaml:"host,omitempty" json:"host,omitempty"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "docqa"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorConfig) Validate() error {
	if !oneOf(c.Type, "chromem", "qdrant") {
		return fmt.Errorf("invalid type %q (valid: chromem, qdrant)", c.Type)
	}
	return nil
}

// EmbedderConfig selects the embedding model.
type EmbedderConfig struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=ollama,enum=openai,enum=hash,default=ollama"`

	Model     string        `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Dimension int           `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	switch c.Provider {
	case "ollama":
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		if c.Dimension == 0 {
			c.Dimension = 768
		}
	case "openai":
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
	case "hash":
		if c.Dimension == 0 {
			c.Dimension = 256
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *EmbedderConfig) Validate() error {
	if !oneOf(c.Provider, "ollama", "openai", "hash") {
		return fmt.Errorf("invalid provider %q (valid: ollama, openai, hash)", c.Provider)
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// LLMConfig selects the chat model driving the agent.
//
//	llm:
//	  provider: gemini
//	  model: gemini-2.5-flash
//	  api_key: ${GEMINI_API_KEY}
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=ollama,enum=gemini,default=ollama"`

	Model       string        `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	switch c.Provider {
	case "ollama":
		if c.Model == "" {
			c.Model = "llama3.2"
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	case "gemini":
		if c.Model == "" {
			c.Model = "gemini-2.5-flash"
		}
	}
	if c.Temperature == nil {
		t := 0.0
		c.Temperature = &t
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMConfig) Validate() error {
	if !oneOf(c.Provider, "ollama", "gemini") {
		return fmt.Errorf("invalid provider %q (valid: ollama, gemini)", c.Provider)
	}
	if c.Provider == "gemini" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for gemini")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// ParserConfig controls document parsing and chunking.
type ParserConfig struct {
	// ChunkSize is the target chunk length in bytes.
	ChunkSize    int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"default=1000"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"default=200"`

	// MaxFileSize rejects larger documents; 0 means no limit.
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
}

func (c *ParserConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
}

func (c *ParserConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// IndexConfig controls the per-document index cache.
type IndexConfig struct {
	// Revalidate rebuilds a resident index whose file changed on disk.
	Revalidate *bool `yaml:"revalidate,omitempty" json:"revalidate,omitempty" jsonschema:"default=true"`

	// Watch invalidates indexes from filesystem events.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`

	// Concurrency bounds parallel builds in prepare; 0 means unbounded.
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty" jsonschema:"default=4"`
}

func (c *IndexConfig) SetDefaults() {
	if c.Revalidate == nil {
		c.Revalidate = BoolPtr(true)
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *IndexConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}
	return nil
}
