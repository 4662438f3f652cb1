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

package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/llm/gemini"
	"github.com/kadirpekel/docqa/pkg/llm/ollama"
	"github.com/kadirpekel/docqa/pkg/retry"
)

// LLM providers.
const (
	LLMProviderOllama = "ollama"
	LLMProviderGemini = "gemini"
)

// DefaultLLMFactory creates the chat model for cfg.
func DefaultLLMFactory(ctx context.Context, cfg *config.LLMConfig) (llm.Model, error) {
	switch cfg.Provider {
	case LLMProviderOllama:
		return ollama.New(ollama.Config{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			NumPredict:  cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		}), nil

	case LLMProviderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// NewChunkStore opens the chunk store backend selected by cfg.
func NewChunkStore(ctx context.Context, cfg *config.Config, pool *config.DBPool) (*chunkstore.Store, error) {
	switch cfg.ChunkStore.Backend {
	case config.ChunkStoreMemory:
		return chunkstore.New(chunkstore.NewMemoryBackend()), nil

	case config.ChunkStoreFile:
		backend, err := chunkstore.NewFileBackend(cfg.ChunkStore.Dir)
		if err != nil {
			return nil, err
		}
		return chunkstore.New(backend), nil

	case config.ChunkStoreSQL:
		db, err := pool.Get(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		backend, err := chunkstore.NewSQLBackend(ctx, db, cfg.Database.Dialect(), cfg.ChunkStore.Table)
		if err != nil {
			return nil, err
		}
		return chunkstore.New(backend), nil

	default:
		return nil, fmt.Errorf("unsupported chunk store backend: %s", cfg.ChunkStore.Backend)
	}
}

// NewRetryer builds the tool call retry policy.
func NewRetryer(cfg config.RetryConfig) *retry.Retryer {
	return retry.New(retry.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Jitter:     cfg.Jitter,
	}, retry.WithOnRetry(func(operation string, attempt int, err error) {
		slog.Warn("Retrying", "operation", operation, "attempt", attempt, "error", err)
	}))
}
