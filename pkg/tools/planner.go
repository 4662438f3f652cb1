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

package tools

import (
	"context"
	"fmt"
	"strings"
)

// PlannerName is the name of the query planning tool.
const PlannerName = "query_planner"

// Planner lets the agent record which documents it intends to search
// before searching them. It has no side effects; the plan is echoed back
// so it lands in the transcript.
type Planner struct {
	// Documents returns the tool names the plan may refer to.
	Documents func() []string
}

func (p *Planner) Name() string { return PlannerName }

func (p *Planner) Description() string {
	return `Plan which documents to search before searching them. Input: {"originalQuery": string, "documentsToSearch": [string], "reasoning": string}.`
}

func (p *Planner) Execute(_ context.Context, in Input) (string, error) {
	original := stringArg(in.Args, "originalQuery")
	if original == "" {
		original = in.Query
	}
	targets := stringsArg(in.Args, "documentsToSearch")
	reasoning := stringArg(in.Args, "reasoning")

	var available []string
	if p.Documents != nil {
		available = p.Documents()
	}

	var b strings.Builder
	b.WriteString("Query planning complete:\n")
	fmt.Fprintf(&b, "- Original Query: %s\n", original)
	fmt.Fprintf(&b, "- Target Documents: %s\n", joinOr(targets, "all available documents"))
	fmt.Fprintf(&b, "- Reasoning: %s\n", orDefault(reasoning, "not given"))
	fmt.Fprintf(&b, "- Available Tools: %s\n", joinOr(available, "none"))
	b.WriteString("\nProceed to search the identified documents.")
	return b.String(), nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{strings.TrimSpace(v)}
	}
	return nil
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
