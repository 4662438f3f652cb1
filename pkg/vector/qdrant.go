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
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/docqa/pkg/document"
	"github.com/kadirpekel/docqa/pkg/embedder"
)

// payloadText is the payload key holding the chunk text.
const payloadText = "text"

// QdrantOptions configures the remote store.
type QdrantOptions struct {
	Collection string
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
}

// QdrantStore is a Store backed by a Qdrant server over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	embedder   embedder.Embedder

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore connects to Qdrant. The collection is created on first
// use with the embedder's dimension.
func NewQdrantStore(opts QdrantOptions, emb embedder.Embedder) (*QdrantStore, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6334
	}
	if opts.Collection == "" {
		opts.Collection = "docqa"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", opts.Host, opts.Port, err)
	}

	return &QdrantStore{client: client, collection: opts.Collection, embedder: emb}, nil
}

// Name returns the store name.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.embedder.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	s.ready = true
	return nil
}

// Insert embeds and upserts chunks, keyed by chunk ID.
func (s *QdrantStore) Insert(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts(chunks))
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload, err := toPayload(c)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Retrieve returns the topK chunks most similar to query.
func (s *QdrantStore) Retrieve(ctx context.Context, query string, topK int, filter Filter) ([]document.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	req := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter.Sources) > 0 {
		req.Filter = sourceFilter(filter.Sources)
	}

	resp, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	return rank(convertQdrantResults(resp.GetResult()), topK), nil
}

// DeleteSource removes every point whose source is path.
func (s *QdrantStore) DeleteSource(ctx context.Context, path string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: sourceFilter([]string{path}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points of %s: %w", path, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// sourceFilter matches points whose source is any of paths.
func sourceFilter(paths []string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(paths))
	for _, p := range paths {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: document.MetaSource,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: p},
					},
				},
			},
		})
	}
	if len(conditions) == 1 {
		return &qdrant.Filter{Must: conditions}
	}
	return &qdrant.Filter{Should: conditions}
}

func toPayload(c document.Chunk) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert metadata value for key %s: %w", k, err)
		}
		payload[k] = val
	}
	text, err := qdrant.NewValue(c.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to convert chunk text: %w", err)
	}
	payload[payloadText] = text
	return payload, nil
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []document.RetrievedChunk {
	out := make([]document.RetrievedChunk, 0, len(points))
	for _, point := range points {
		var id string
		if point.GetId() != nil {
			switch v := point.GetId().GetPointIdOptions().(type) {
			case *qdrant.PointId_Uuid:
				id = v.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", v.Num)
			}
		}

		var text string
		meta := make(map[string]string, len(point.GetPayload()))
		for key, value := range point.GetPayload() {
			s := payloadString(value)
			if key == payloadText {
				text = s
				continue
			}
			meta[key] = s
		}

		out = append(out, document.RetrievedChunk{
			Chunk:  document.Chunk{ID: id, Text: text, Metadata: meta},
			Score:  point.GetScore(),
			Source: meta[document.MetaSource],
		})
	}
	return out
}

func payloadString(v *qdrant.Value) string {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return fmt.Sprintf("%d", k.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return fmt.Sprintf("%g", k.DoubleValue)
	case *qdrant.Value_BoolValue:
		return fmt.Sprintf("%t", k.BoolValue)
	default:
		return ""
	}
}

var _ Store = (*QdrantStore)(nil)
