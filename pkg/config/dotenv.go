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
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files without overriding variables already set.
//
// Search order: explicit paths, then the config file's directory, then
// the working directory, then the home directory. Earlier files win since
// later ones never override.
func LoadDotEnv(configPath string, paths ...string) {
	candidates := append([]string{}, paths...)
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			candidates = append(candidates, filepath.Join(filepath.Dir(abs), ".env"))
		}
	}
	candidates = append(candidates, ".env")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".env"))
	}

	seen := make(map[string]bool, len(candidates))
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		loadIfExists(abs)
	}
}

func loadIfExists(path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("Failed to load .env file", "path", path, "error", err)
		return
	}
	slog.Debug("Loaded environment from .env", "path", path)
}
