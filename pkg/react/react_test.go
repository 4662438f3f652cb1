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

package react

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TwoTriplesAndFinalAnswer(t *testing.T) {
	text := `Thought: I should check both documents.
Action: query_a_pdf_tool
Action Input: {"query": "revenue 2023"}
Observation: Revenue was 10M.
Thought: Now the second one.
Action: query_b_pdf_tool
Action Input: costs 2023
Observation: Costs were 4M.
Final Answer: X`

	turn := Parse(text)
	require.Len(t, turn.Steps, 2)
	assert.True(t, turn.HasFinal)
	assert.Equal(t, "X", turn.FinalAnswer)
	assert.Equal(t, "X", ExtractAnswer(text))

	first := turn.Steps[0]
	assert.Equal(t, "I should check both documents.", first.Thought)
	assert.Equal(t, "query_a_pdf_tool", first.Action)
	assert.Equal(t, map[string]any{"query": "revenue 2023"}, first.Args)
	require.NotNil(t, first.Observation)
	assert.Equal(t, "Revenue was 10M.", *first.Observation)

	second := turn.Steps[1]
	assert.Equal(t, "Now the second one.", second.Thought)
	assert.Equal(t, "costs 2023", second.RawInput)
	assert.Equal(t, map[string]any{"query": "costs 2023"}, second.Args)
	require.NotNil(t, second.Observation)
	assert.Equal(t, "Costs were 4M.", *second.Observation)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		steps     int
		hasFinal  bool
		final     string
		firstTool string
	}{
		{name: "empty", text: ""},
		{name: "plain prose", text: "The answer is 42."},
		{name: "thought only", text: "Thought: hmm, not sure yet."},
		{
			name:      "action without input",
			text:      "Action: query_a_tool",
			steps:     1,
			firstTool: "query_a_tool",
		},
		{
			name: "input without action",
			text: "Action Input: {\"query\": \"x\"}",
		},
		{
			name: "empty action name",
			text: "Action:\nAction Input: x",
		},
		{
			name:      "lower case markers",
			text:      "thought: t\naction: query_a_tool\naction input: q\nfinal answer: done",
			steps:     1,
			hasFinal:  true,
			final:     "done",
			firstTool: "query_a_tool",
		},
		{
			name:      "markdown bold markers",
			text:      "**Action:** query_a_tool\n**Action Input:** q\n**Final Answer:** bold",
			steps:     1,
			hasFinal:  true,
			final:     "bold",
			firstTool: "query_a_tool",
		},
		{
			name:      "decorated tool name",
			text:      "Action: `query_a_tool`\nAction Input: q",
			steps:     1,
			firstTool: "query_a_tool",
		},
		{
			name:      "bracketed tool name",
			text:      "Action: [query_a_tool]\nAction Input: q",
			steps:     1,
			firstTool: "query_a_tool",
		},
		{
			name:      "call syntax tool name",
			text:      "Action: query_a_tool(\"q\")",
			steps:     1,
			firstTool: "query_a_tool",
		},
		{
			name: "marker not at line start",
			text: "I will now do Action: query_a_tool",
		},
		{
			name:     "empty final answer",
			text:     "Final Answer:",
			hasFinal: true,
		},
		{
			name:     "final answer swallows later markers",
			text:     "Final Answer: first\nAction: query_a_tool\nFinal Answer: second",
			hasFinal: true,
			final:    "first\nAction: query_a_tool\nFinal Answer: second",
		},
		{
			name:     "multi-line final answer",
			text:     "Final Answer: line one\n\nline two\n",
			hasFinal: true,
			final:    "line one\n\nline two",
		},
		{
			name:      "crlf line endings",
			text:      "Action: query_a_tool\r\nAction Input: q\r\nFinal Answer: ok\r\n",
			steps:     1,
			hasFinal:  true,
			final:     "ok",
			firstTool: "query_a_tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := Parse(tt.text)
			assert.Len(t, turn.Steps, tt.steps)
			assert.Equal(t, tt.hasFinal, turn.HasFinal)
			assert.Equal(t, tt.final, turn.FinalAnswer)
			if tt.firstTool != "" {
				assert.Equal(t, tt.firstTool, turn.Steps[0].Action)
			}
		})
	}
}

func TestParse_SecondInputIgnored(t *testing.T) {
	turn := Parse("Action: query_a_tool\nAction Input: first\nAction Input: second")
	require.Len(t, turn.Steps, 1)
	assert.Equal(t, "first", turn.Steps[0].RawInput)
}

func TestParse_MultiLineJSONInput(t *testing.T) {
	text := "Action: query_planner\nAction Input: {\n  \"originalQuery\": \"q\",\n  \"documentsToSearch\": [\"a\", \"b\"]\n}\nObservation: planned"

	turn := Parse(text)
	require.Len(t, turn.Steps, 1)
	args := turn.Steps[0].Args
	assert.Equal(t, "q", args["originalQuery"])
	assert.Equal(t, []any{"a", "b"}, args["documentsToSearch"])
}

func TestParse_ObservationWithoutAction(t *testing.T) {
	turn := Parse("Observation: stray\nAction: query_a_tool\nAction Input: q")
	require.Len(t, turn.Steps, 1)
	assert.Nil(t, turn.Steps[0].Observation)
	assert.Equal(t, []string{"stray"}, turn.Observations)
}

func TestParse_TrailingThought(t *testing.T) {
	turn := Parse("Action: query_a_tool\nAction Input: q\nObservation: o\nThought: I know enough")
	assert.Equal(t, "I know enough", turn.Thought)
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		raw     string
		args    map[string]any
	}{
		{"json object", `{"query": "a", "k": 2}`, `{"query": "a", "k": 2}`, map[string]any{"query": "a", "k": float64(2)}},
		{"json string", `"quoted"`, `"quoted"`, map[string]any{"query": "quoted"}},
		{"bare text", `what is revenue`, `what is revenue`, map[string]any{"query": "what is revenue"}},
		{"json number", `42`, `42`, map[string]any{"query": "42"}},
		{"json array", `["a"]`, `["a"]`, map[string]any{"query": `["a"]`}},
		{"broken json", `{"query": "a"`, `{"query": "a"`, map[string]any{"query": `{"query": "a"`}},
		{"fenced json", "```json\n{\"query\": \"f\"}\n```", `{"query": "f"}`, map[string]any{"query": "f"}},
		{"fenced no tag", "```\n{\"query\": \"f\"}\n```", `{"query": "f"}`, map[string]any{"query": "f"}},
		{"fenced one line", "```{\"query\": \"f\"}```", `{"query": "f"}`, map[string]any{"query": "f"}},
		{"inline backticks", "`bare`", "bare", map[string]any{"query": "bare"}},
		{"empty", "", "", map[string]any{"query": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, args := ParseInput(tt.payload)
			assert.Equal(t, tt.raw, raw)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestExtractAnswer(t *testing.T) {
	long := strings.Repeat("substantial observation text ", 3)

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "final answer wins",
			text: "Observation: " + long + "\nFinal Answer: the answer",
			want: "the answer",
		},
		{
			name: "last long observation",
			text: "Action: a\nAction Input: q\nObservation: short\nAction: b\nAction Input: q\nObservation: " + long,
			want: strings.TrimSpace(long),
		},
		{
			name: "only the last observation counts",
			text: "Observation: " + long + "\nObservation: too short",
			want: "Observation: " + long + "\nObservation: too short",
		},
		{
			name: "exactly fifty characters is not enough",
			text: "Observation: " + strings.Repeat("x", 50),
			want: "Observation: " + strings.Repeat("x", 50),
		},
		{
			name: "fifty one characters is enough",
			text: "Observation: " + strings.Repeat("x", 51),
			want: strings.Repeat("x", 51),
		},
		{
			name: "raw fallback unchanged",
			text: "  just some prose\nwith lines  ",
			want: "  just some prose\nwith lines  ",
		},
		{
			name: "empty final answer falls through",
			text: "Final Answer:   ",
			want: "Final Answer:   ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswer(tt.text))
		})
	}
}
