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

package chunkstore

import (
	"context"
	"sync"

	"github.com/kadirpekel/docqa/pkg/document"
)

// MemoryBackend keeps records in a map. Records do not survive restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

func (b *MemoryBackend) Get(_ context.Context, path string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.Chunks = append([]document.Chunk(nil), rec.Chunks...)
	return &cp, nil
}

func (b *MemoryBackend) Head(_ context.Context, path string) (document.Fingerprint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[path]
	if !ok {
		return document.Fingerprint{}, ErrNotFound
	}
	return rec.Fingerprint, nil
}

func (b *MemoryBackend) Put(_ context.Context, rec *Record) error {
	cp := *rec
	cp.Chunks = append([]document.Chunk(nil), rec.Chunks...)

	b.mu.Lock()
	b.records[rec.Path] = &cp
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[path]; !ok {
		return ErrNotFound
	}
	delete(b.records, path)
	return nil
}

func (b *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Documents: len(b.records)}
	for _, rec := range b.records {
		st.Chunks += len(rec.Chunks)
	}
	return st, nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	b.records = make(map[string]*Record)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
