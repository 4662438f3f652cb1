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

package agent

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/docqa/pkg/tools"
)

const basePrompt = `You are a research assistant that answers questions using a set of documents. You work in steps, and every step uses this format:

Thought: what you need to find out next and which tool can tell you
Action: the exact name of one tool from the list below
Action Input: the tool input as a JSON object, for example {"query": "revenue in 2023"}

You may write several Action / Action Input pairs in one step when they are independent, such as searching different documents. Stop after your actions. Each tool's result comes back to you as an Observation.

When you have enough information, reply with:

Thought: I can answer now.
Final Answer: your complete answer, citing the documents you used

Rules:
- Search the documents before answering. Do not answer from memory.
- Only use tool names exactly as listed.
- Write Action Input as JSON, not as a Python dict.
- If the documents do not contain the answer, say so in the Final Answer.`

// SystemPrompt builds the instructions for a run over the given tools.
func SystemPrompt(available []tools.Tool, extra string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	var docs []tools.DocumentTool
	for _, t := range available {
		if dt, ok := t.(tools.DocumentTool); ok {
			docs = append(docs, dt)
		}
	}
	if len(docs) > 0 {
		b.WriteString("\n\nAvailable Documents:\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s: %s\n", d.DisplayName(), d.Description())
		}
	}

	if len(available) > 0 {
		b.WriteString("\nAvailable Tools:\n")
		for _, t := range available {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		}
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
