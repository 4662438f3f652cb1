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

import "fmt"

// LoggerConfig configures logging behavior.
//
// CLI flags override these values.
//
//	logger:
//	  level: info
//	  file: docqa.log
//	  format: simple
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// File is the log file path; empty logs to stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Format is simple, verbose or json.
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json,default=simple"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	if !oneOf(c.Level, "debug", "info", "warn", "warning", "error") {
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	if !oneOf(c.Format, "simple", "verbose", "json") {
		return fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}
