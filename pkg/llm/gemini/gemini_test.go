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

package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestContents(t *testing.T) {
	got := contents([]llm.Message{llm.User("question"), llm.Assistant("Thought: look it up")})
	require.Len(t, got, 2)
	assert.EqualValues(t, "user", got[0].Role)
	assert.EqualValues(t, "model", got[1].Role)
	require.Len(t, got[1].Parts, 1)
	assert.Equal(t, "Thought: look it up", got[1].Parts[0].Text)
}

func TestBuildConfig(t *testing.T) {
	temp := 0.2
	m := &Model{name: "gemini-2.5-flash", config: Config{Temperature: &temp, MaxTokens: 512, Stop: []string{"Observation:"}}}

	cfg := m.buildConfig("system prompt")
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "system prompt", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6)
	assert.EqualValues(t, 512, cfg.MaxOutputTokens)
	assert.Equal(t, []string{"Observation:"}, cfg.StopSequences)

	empty := (&Model{}).buildConfig("")
	assert.Nil(t, empty.SystemInstruction)
	assert.Nil(t, empty.Temperature)
}
