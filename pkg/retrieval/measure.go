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

package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Measurer sizes text against a budget.
type Measurer interface {
	Measure(text string) int
	// Truncate returns the longest prefix of text whose size is at most n.
	Truncate(text string, n int) string
	Unit() string
}

// ByteMeasurer measures UTF-8 bytes.
type ByteMeasurer struct{}

func (ByteMeasurer) Measure(text string) int { return len(text) }
func (ByteMeasurer) Unit() string            { return "bytes" }

// Truncate cuts at a rune boundary so the result stays valid UTF-8.
func (ByteMeasurer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// TokenMeasurer measures tiktoken tokens.
type TokenMeasurer struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

// NewTokenMeasurer loads the named encoding, e.g. cl100k_base.
func NewTokenMeasurer(encoding string) (*TokenMeasurer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	encodingMu.Lock()
	defer encodingMu.Unlock()

	enc, ok := encodingCache[encoding]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
		}
		encodingCache[encoding] = enc
	}
	return &TokenMeasurer{encoding: enc}, nil
}

func (m *TokenMeasurer) Unit() string { return "tokens" }

func (m *TokenMeasurer) encode(text string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoding.Encode(text, nil, nil)
}

func (m *TokenMeasurer) Measure(text string) int {
	return len(m.encode(text))
}

// Truncate decodes the first n tokens, dropping any partial trailing rune.
func (m *TokenMeasurer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := m.encode(text)
	if len(tokens) <= n {
		return text
	}
	for ; n > 0; n-- {
		m.mu.Lock()
		prefix := m.encoding.Decode(tokens[:n])
		m.mu.Unlock()
		prefix = strings.ToValidUTF8(prefix, "")
		if m.Measure(prefix) <= n {
			return prefix
		}
	}
	return ""
}

// NewMeasurer returns the measurer named by kind ("bytes" or "tokens").
func NewMeasurer(kind, encoding string) (Measurer, error) {
	switch kind {
	case "", "bytes":
		return ByteMeasurer{}, nil
	case "tokens":
		return NewTokenMeasurer(encoding)
	default:
		return nil, fmt.Errorf("unknown measure %q (valid: bytes, tokens)", kind)
	}
}
