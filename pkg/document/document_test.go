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

package document

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/docs/user-guide.pdf", "user guide"},
		{"release_notes_v2.md", "release notes v2"},
		{"Spec.DOCX", "Spec"},
		{"data.xlsx", "data.xlsx"},
		{"a--b__c.txt", "a b c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayName(tt.path), tt.path)
	}
}

func TestChunkID_Stable(t *testing.T) {
	assert.Equal(t, ChunkID("/a.pdf", 3), ChunkID("/a.pdf", 3))
	assert.NotEqual(t, ChunkID("/a.pdf", 3), ChunkID("/a.pdf", 4))
	assert.NotEqual(t, ChunkID("/a.pdf", 3), ChunkID("/b.pdf", 3))
}

func TestNewChunk(t *testing.T) {
	c := NewChunk("/a.pdf", 2, "hello", map[string]string{MetaPage: "7", MetaSource: "ignored"})
	assert.Equal(t, "/a.pdf", c.Source())
	assert.Equal(t, 2, c.Index())
	assert.Equal(t, "7", c.Metadata[MetaPage])
	assert.Equal(t, ChunkID("/a.pdf", 2), c.ID)
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	fp, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fp.SizeBytes)
	assert.True(t, fp.ModifiedAt.Equal(mtime))

	_, err = Stat(dir)
	assert.Error(t, err)
}
