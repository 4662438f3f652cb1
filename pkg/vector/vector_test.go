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

package vector

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
)

func seed(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	install := []document.Chunk{
		document.NewChunk("/docs/install.md", 0, "Install the CLI with the package manager.", nil),
		document.NewChunk("/docs/install.md", 1, "Configure the CLI by editing the config file.", nil),
	}
	finance := []document.Chunk{
		document.NewChunk("/docs/finance.pdf", 0, "Quarterly revenue grew by twelve percent.", map[string]string{document.MetaPage: "3"}),
		document.NewChunk("/docs/finance.pdf", 1, "Operating costs were flat year over year.", nil),
	}
	require.NoError(t, store.Insert(ctx, install))
	require.NoError(t, store.Insert(ctx, finance))
}

func TestChromemStore_Retrieve(t *testing.T) {
	ctx := context.Background()
	store, err := NewChromemStore(ChromemOptions{}, embedder.NewHash(128))
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Retrieve(ctx, "anything", 3, Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	seed(t, store)

	t.Run("unfiltered ranks by similarity", func(t *testing.T) {
		got, err := store.Retrieve(ctx, "install the CLI", 2, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "/docs/install.md", got[0].Source)
		assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	})

	t.Run("single source", func(t *testing.T) {
		got, err := store.Retrieve(ctx, "install the CLI", 10, Filter{Sources: []string{"/docs/finance.pdf"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, c := range got {
			assert.Equal(t, "/docs/finance.pdf", c.Source)
		}
	})

	t.Run("multiple sources merge", func(t *testing.T) {
		got, err := store.Retrieve(ctx, "revenue", 3, Filter{Sources: []string{"/docs/finance.pdf", "/docs/install.md"}})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "/docs/finance.pdf", got[0].Source)
		assert.Equal(t, "3", got[0].Metadata[document.MetaPage])
	})

	t.Run("topK larger than collection", func(t *testing.T) {
		got, err := store.Retrieve(ctx, "revenue", 50, Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func TestChromemStore_DeleteSource(t *testing.T) {
	ctx := context.Background()
	store, err := NewChromemStore(ChromemOptions{Collection: "test"}, embedder.NewHash(64))
	require.NoError(t, err)
	seed(t, store)

	require.NoError(t, store.DeleteSource(ctx, "/docs/install.md"))

	got, err := store.Retrieve(ctx, "install the CLI", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, "/docs/finance.pdf", c.Source)
	}
}

func TestChromemStore_ReinsertReplaces(t *testing.T) {
	ctx := context.Background()
	store, err := NewChromemStore(ChromemOptions{}, embedder.NewHash(64))
	require.NoError(t, err)
	seed(t, store)
	seed(t, store)

	got, err := store.Retrieve(ctx, "revenue", 50, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewChromemStore(ChromemOptions{PersistPath: dir}, embedder.NewHash(64))
	require.NoError(t, err)
	seed(t, store)
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(ChromemOptions{PersistPath: dir}, embedder.NewHash(64))
	require.NoError(t, err)
	got, err := reopened.Retrieve(ctx, "revenue", 10, Filter{Sources: []string{"/docs/finance.pdf"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNew(t *testing.T) {
	store, err := New(config.VectorConfig{Type: "chromem"}, embedder.NewHash(32))
	require.NoError(t, err)
	assert.Equal(t, "chromem", store.Name())

	_, err = New(config.VectorConfig{Type: "faiss"}, embedder.NewHash(32))
	assert.Error(t, err)
}

func TestSourceFilter(t *testing.T) {
	single := sourceFilter([]string{"/a.pdf"})
	require.Len(t, single.GetMust(), 1)
	assert.Empty(t, single.GetShould())
	assert.Equal(t, "/a.pdf", single.GetMust()[0].GetField().GetMatch().GetKeyword())

	multi := sourceFilter([]string{"/a.pdf", "/b.pdf"})
	assert.Empty(t, multi.GetMust())
	assert.Len(t, multi.GetShould(), 2)
}

func TestQdrantPayload(t *testing.T) {
	chunk := document.NewChunk("/docs/a.pdf", 2, "hello", map[string]string{document.MetaPage: "7"})
	payload, err := toPayload(chunk)
	require.NoError(t, err)

	point := &qdrant.ScoredPoint{
		Id:      qdrant.NewID(chunk.ID),
		Payload: payload,
		Score:   0.5,
	}
	got := convertQdrantResults([]*qdrant.ScoredPoint{point})
	require.Len(t, got, 1)
	assert.Equal(t, chunk.ID, got[0].ID)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "/docs/a.pdf", got[0].Source)
	assert.Equal(t, 2, got[0].Index())
	assert.Equal(t, "7", got[0].Metadata[document.MetaPage])
	assert.NotContains(t, got[0].Metadata, payloadText)
}

func TestRank(t *testing.T) {
	in := []document.RetrievedChunk{
		{Chunk: document.NewChunk("/b", 0, "x", nil), Score: 0.2, Source: "/b"},
		{Chunk: document.NewChunk("/a", 1, "x", nil), Score: 0.9, Source: "/a"},
		{Chunk: document.NewChunk("/a", 0, "x", nil), Score: 0.9, Source: "/a"},
	}
	got := rank(in, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index())
	assert.Equal(t, 1, got[1].Index())
}
