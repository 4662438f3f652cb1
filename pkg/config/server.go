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

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address,omitempty" json:"address,omitempty" jsonschema:"default=:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
	CORSOrigins     []string      `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// Agent runs are bounded by agent.timeout; leave room for the response.
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 150 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter is otlp or stdout.
	Exporter     string  `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"enum=otlp,enum=stdout,default=otlp"`
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"default=localhost:4317"`
	Insecure     bool    `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"minimum=0,maximum=1,default=1"`
	ServiceName  string  `yaml:"service_name,omitempty" json:"service_name,omitempty" jsonschema:"default=docqa"`
}

func (c *ObservabilityConfig) SetDefaults() {
	t := &c.Tracing
	if t.Exporter == "" {
		t.Exporter = "otlp"
	}
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = 1.0
	}
	if t.ServiceName == "" {
		t.ServiceName = "docqa"
	}
}

func (c *ObservabilityConfig) Validate() error {
	t := c.Tracing
	if !oneOf(t.Exporter, "otlp", "stdout") {
		return fmt.Errorf("invalid tracing exporter %q (valid: otlp, stdout)", t.Exporter)
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1")
	}
	return nil
}
