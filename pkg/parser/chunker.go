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

package parser

import (
	"strings"
	"unicode/utf8"
)

// Chunker groups lines into chunks of at most Size bytes. Consecutive
// chunks share up to Overlap bytes of trailing lines. Lines longer than
// Size are split at rune boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the non-blank chunks of text.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, c.splitLong(line)...)
	}

	var chunks []string
	var current []string
	size := 0

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, line := range lines {
		lineLen := len(line) + 1
		if len(current) > 0 && size+lineLen > c.Size {
			flush()
			current, size = c.tail(current, lineLen)
		}
		current = append(current, line)
		size += lineLen
	}
	if len(current) > 0 {
		flush()
	}
	return chunks
}

// tail keeps trailing lines totalling at most Overlap bytes, leaving room
// for the next line.
func (c *Chunker) tail(lines []string, next int) ([]string, int) {
	if c.Overlap == 0 {
		return nil, 0
	}
	var kept []string
	size := 0
	for i := len(lines) - 1; i >= 0; i-- {
		l := len(lines[i]) + 1
		if size+l > c.Overlap || size+l+next > c.Size {
			break
		}
		kept = append([]string{lines[i]}, kept...)
		size += l
	}
	return kept, size
}

func (c *Chunker) splitLong(line string) []string {
	if len(line) < c.Size {
		return []string{line}
	}
	var parts []string
	limit := c.Size - 1
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(line)
		}
		parts = append(parts, line[:cut])
		line = line[cut:]
	}
	if line != "" {
		parts = append(parts, line)
	}
	return parts
}
