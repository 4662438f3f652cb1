// Package config loads the docqa configuration.
//
// Configuration is read from a provider (file, consul, etcd, zookeeper),
// parsed as YAML or JSON, expanded against the environment, decoded into
// Config, defaulted and validated.
package config

import (
	"errors"
	"fmt"
)

// Config is the root configuration.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty"`
	Database      DatabaseConfig      `yaml:"database,omitempty" json:"database,omitempty"`
	ChunkStore    ChunkStoreConfig    `yaml:"chunk_store,omitempty" json:"chunk_store,omitempty"`
	Vector        VectorConfig        `yaml:"vector,omitempty" json:"vector,omitempty"`
	Embedder      EmbedderConfig      `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty" json:"llm,omitempty"`
	Parser        ParserConfig        `yaml:"parser,omitempty" json:"parser,omitempty"`
	Index         IndexConfig         `yaml:"index,omitempty" json:"index,omitempty"`
	Retrieval     RetrievalConfig     `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`
	Tools         ToolsConfig         `yaml:"tools,omitempty" json:"tools,omitempty"`
	Agent         AgentConfig         `yaml:"agent,omitempty" json:"agent,omitempty"`
	Retry         RetryConfig         `yaml:"retry,omitempty" json:"retry,omitempty"`
	Cache         CacheConfig         `yaml:"cache,omitempty" json:"cache,omitempty"`
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults fills every section with its defaults.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.ChunkStore.SetDefaults()
	if c.ChunkStore.Backend == ChunkStoreSQL {
		c.Database.SetDefaults()
	}
	c.Vector.SetDefaults()
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Parser.SetDefaults()
	c.Index.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Tools.SetDefaults()
	c.Agent.SetDefaults()
	c.Retry.SetDefaults()
	c.Cache.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	check("logger", c.Logger.Validate())
	check("chunk_store", c.ChunkStore.Validate())
	if c.ChunkStore.Backend == ChunkStoreSQL {
		check("database", c.Database.Validate())
	}
	check("vector", c.Vector.Validate())
	check("embedder", c.Embedder.Validate())
	check("llm", c.LLM.Validate())
	check("parser", c.Parser.Validate())
	check("index", c.Index.Validate())
	check("retrieval", c.Retrieval.Validate())
	check("tools", c.Tools.Validate())
	check("agent", c.Agent.Validate())
	check("retry", c.Retry.Validate())
	check("cache", c.Cache.Validate())
	check("server", c.Server.Validate())
	check("observability", c.Observability.Validate())

	return errors.Join(errs...)
}

// Default returns a defaulted configuration with no file behind it.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences b, falling back to defaultValue when nil.
func BoolValue(b *bool, defaultValue bool) bool {
	if b == nil {
		return defaultValue
	}
	return *b
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}
