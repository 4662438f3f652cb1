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

// Package gemini implements llm.StreamingModel with the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/kadirpekel/docqa/pkg/llm"
)

const defaultModel = "gemini-2.5-flash"

// Config configures the Gemini model.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   int
	Stop        []string
}

// Model calls the Gemini API.
type Model struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a Gemini model.
func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Model{client: client, name: cfg.Model, config: cfg}, nil
}

// Name returns the model identifier.
func (m *Model) Name() string {
	return m.name
}

// Complete performs non-streaming generation.
func (m *Model) Complete(ctx context.Context, system string, transcript []llm.Message) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents(transcript), m.buildConfig(system))
	if err != nil {
		return "", fmt.Errorf("Gemini generation failed: %w", err)
	}
	return resp.Text(), nil
}

// Stream yields text deltas as Gemini produces them.
func (m *Model) Stream(ctx context.Context, system string, transcript []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents(transcript), m.buildConfig(system)) {
			if err != nil {
				yield("", fmt.Errorf("Gemini streaming error: %w", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

func (m *Model) buildConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if m.config.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*m.config.Temperature))
	}
	if m.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(m.config.MaxTokens)
	}
	if len(m.config.Stop) > 0 {
		cfg.StopSequences = m.config.Stop
	}
	return cfg
}

// contents converts a transcript, mapping the assistant role to Gemini's
// model role.
func contents(transcript []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(transcript))
	for _, msg := range transcript {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Parts: []*genai.Part{{Text: msg.Content}},
			Role:  role,
		})
	}
	return out
}

var _ llm.StreamingModel = (*Model)(nil)
