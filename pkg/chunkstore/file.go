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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/docqa/pkg/document"
)

const recordExt = ".json"

// FileBackend stores one JSON file per document under a directory. Files
// are written to a temp file and renamed so readers never see partial
// records.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk store directory %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) file(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:16])+recordExt)
}

func (b *FileBackend) read(path string) (*Record, error) {
	data, err := os.ReadFile(b.file(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	// A hash collision would surface as a different stored path.
	if rec.Path != path {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (b *FileBackend) Get(ctx context.Context, path string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.read(path)
}

func (b *FileBackend) Head(ctx context.Context, path string) (document.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return document.Fingerprint{}, err
	}
	rec, err := b.read(path)
	if err != nil {
		return document.Fingerprint{}, err
	}
	return rec.Fingerprint, nil
}

func (b *FileBackend) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.file(rec.Path)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, path string) error {
	err := os.Remove(b.file(path))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *FileBackend) records() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(b.dir, e.Name()))
	}
	return files, nil
}

func (b *FileBackend) Stats(ctx context.Context) (Stats, error) {
	files, err := b.records()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var rec struct {
			Chunks []json.RawMessage `json:"chunks"`
		}
		if json.Unmarshal(data, &rec) != nil {
			continue
		}
		st.Documents++
		st.Chunks += len(rec.Chunks)
	}
	return st, nil
}

func (b *FileBackend) Clear(_ context.Context) error {
	files, err := b.records()
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *FileBackend) Close() error { return nil }

var _ Backend = (*FileBackend)(nil)
