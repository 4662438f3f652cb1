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

// Package chunkstore persists parsed document chunks so unchanged
// documents are not parsed again.
//
// A Store sits on a Backend (memory, file or SQL). The StalenessTracker
// decides whether stored chunks may be reused for the live file.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/docqa/pkg/document"
)

// ErrNotFound is returned when no record exists for a path.
var ErrNotFound = errors.New("chunkstore: not found")

// Record is everything persisted for one document.
type Record struct {
	Path        string               `json:"path"`
	Fingerprint document.Fingerprint `json:"fingerprint"`
	Chunks      []document.Chunk     `json:"chunks"`
	StoredAt    time.Time            `json:"stored_at"`
}

// Stats summarises a backend's contents.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Backend is the persistence behind a Store. Put fully replaces any
// previous record for the same path. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, path string) (*Record, error)
	// Head returns only the stored fingerprint.
	Head(ctx context.Context, path string) (document.Fingerprint, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, path string) error
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// StoreError wraps a backend failure with the operation and path.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("chunkstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chunkstore %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store saves and loads chunks per document path.
type Store struct {
	backend Backend
	now     func() time.Time
}

// New creates a Store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Save replaces everything stored for path.
func (s *Store) Save(ctx context.Context, path string, chunks []document.Chunk, fp document.Fingerprint) error {
	rec := &Record{
		Path:        path,
		Fingerprint: fp,
		Chunks:      chunks,
		StoredAt:    s.now(),
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		return &StoreError{Op: "save", Path: path, Err: err}
	}
	slog.Debug("Saved parsed chunks", "path", path, "chunks", len(chunks))
	return nil
}

// Load returns the stored chunks for path, or an error wrapping
// ErrNotFound when nothing is stored.
func (s *Store) Load(ctx context.Context, path string) ([]document.Chunk, error) {
	rec, err := s.backend.Get(ctx, path)
	if err != nil {
		return nil, &StoreError{Op: "load", Path: path, Err: err}
	}
	return rec.Chunks, nil
}

// Fingerprint returns the stored fingerprint for path.
func (s *Store) Fingerprint(ctx context.Context, path string) (document.Fingerprint, error) {
	fp, err := s.backend.Head(ctx, path)
	if err != nil {
		return document.Fingerprint{}, &StoreError{Op: "head", Path: path, Err: err}
	}
	return fp, nil
}

// Remove deletes path's record. Removing a missing path is not an error.
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := s.backend.Delete(ctx, path); err != nil && !errors.Is(err, ErrNotFound) {
		return &StoreError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := s.backend.Stats(ctx)
	if err != nil {
		return Stats{}, &StoreError{Op: "stats", Err: err}
	}
	return st, nil
}

// Clear deletes every record.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
