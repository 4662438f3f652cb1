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
	"encoding/json"
	"strings"
)

// ParseInput decodes an Action Input payload. Code fences are stripped;
// a JSON object becomes the args, a JSON string s becomes {query: s} and
// anything else becomes {query: raw}. The returned raw text is the
// payload with fences removed.
func ParseInput(payload string) (string, map[string]any) {
	raw := stripFences(strings.TrimSpace(payload))

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch val := v.(type) {
		case map[string]any:
			return raw, val
		case string:
			return raw, map[string]any{"query": val}
		}
	}
	return raw, map[string]any{"query": raw}
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return strings.Trim(s, "`")
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop a language tag such as ```json.
		if tag := strings.TrimSpace(s[:i]); !strings.ContainsAny(tag, "{[\"") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
