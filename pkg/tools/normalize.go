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
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultFallbackQuery replaces inputs that normalize to nothing.
const DefaultFallbackQuery = "overview"

// queryKeys are tried in order when the input is an object.
var queryKeys = []string{"query", "input", "text"}

// NormalizeInput turns whatever the agent produced into an Input. A
// string becomes the query; an object contributes its query, input or
// text field (in that order) or, failing those, its compact JSON. Inputs
// that end up empty, "null", "undefined" or "{}" use fallback.
func NormalizeInput(raw any, fallback string) Input {
	if fallback == "" {
		fallback = DefaultFallbackQuery
	}

	var in Input
	switch v := raw.(type) {
	case nil:
	case Input:
		in = v
	case string:
		in.Query = v
	case json.RawMessage:
		return NormalizeInput(decodeRaw(v), fallback)
	case []byte:
		return NormalizeInput(decodeRaw(v), fallback)
	case map[string]any:
		in.Args = v
		in.Query = objectQuery(v)
	default:
		in.Query = compactJSON(v)
	}

	in.Query = strings.TrimSpace(in.Query)
	if isBlank(in.Query) {
		in.Query = fallback
	}
	return in
}

func decodeRaw(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

func objectQuery(obj map[string]any) string {
	for _, key := range queryKeys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		var s string
		if str, isStr := v.(string); isStr {
			s = str
		} else {
			s = compactJSON(v)
		}
		if !isBlank(strings.TrimSpace(s)) {
			return s
		}
	}
	return compactJSON(obj)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func isBlank(s string) bool {
	switch s {
	case "", "null", "undefined", "{}", `""`:
		return true
	}
	return false
}
