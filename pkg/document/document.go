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

// Package document holds the types shared by parsing, storage and
// retrieval.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata keys set on every chunk.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaPage       = "page"
	MetaSheet      = "sheet"
)

// Fingerprint identifies one version of a file.
type Fingerprint struct {
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Stat returns the live fingerprint of path.
func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("%s is a directory", path)
	}
	return Fingerprint{SizeBytes: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// Chunk is a retrievable unit of document text.
type Chunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Source returns the document path the chunk came from.
func (c Chunk) Source() string {
	return c.Metadata[MetaSource]
}

// Index returns the chunk's position within its document, or -1.
func (c Chunk) Index() int {
	i, err := strconv.Atoi(c.Metadata[MetaChunkIndex])
	if err != nil {
		return -1
	}
	return i
}

// RetrievedChunk is a chunk with its relevance score.
type RetrievedChunk struct {
	Chunk
	Score  float32 `json:"score"`
	Source string  `json:"source"`
}

var chunkNamespace = uuid.MustParse("6f3c7d2a-1b8e-4f5a-9c0d-2e4b6a8f1c3d")

// ChunkID returns a stable ID for the index-th chunk of path.
func ChunkID(path string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(path+"#"+strconv.Itoa(index))).String()
}

// NewChunk builds a chunk of path with the required metadata set.
// extra entries are copied over.
func NewChunk(path string, index int, text string, extra map[string]string) Chunk {
	meta := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		meta[k] = v
	}
	meta[MetaSource] = path
	meta[MetaChunkIndex] = strconv.Itoa(index)
	return Chunk{ID: ChunkID(path, index), Text: text, Metadata: meta}
}

var displayExtensions = []string{".pdf", ".txt", ".md", ".docx"}

// DisplayName derives a human name from a document path: the base name
// without a known extension, with dashes and underscores as spaces.
func DisplayName(path string) string {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	for _, ext := range displayExtensions {
		if strings.HasSuffix(lower, ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
