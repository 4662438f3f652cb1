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

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/logger"
)

// initLogger installs the process logger. Flags (and their env vars) win
// over the config file's logger section, which wins over defaults.
func initLogger(level, file, format string, cfg *config.LoggerConfig) (func(), error) {
	if cfg != nil {
		if level == "" {
			level = cfg.Level
		}
		if file == "" {
			file = cfg.File
		}
		if format == "" {
			format = cfg.Format
		}
	}
	if format == "" {
		format = logger.FormatSimple
	}

	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if file == "" {
		logger.Init(lvl, os.Stderr, format)
		return func() {}, nil
	}
	out, closeFn, err := logger.OpenLogFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Init(lvl, out, format)
	return closeFn, nil
}

// reinitLogger applies the config file's logger section once it is known.
func reinitLogger(cli *CLI, cfg *config.Config) func() {
	if cli.LogLevel != "" && cli.LogFile != "" && cli.LogFormat != "" {
		return func() {}
	}
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to apply logger config: %v\n", err)
		return func() {}
	}
	return cleanup
}
