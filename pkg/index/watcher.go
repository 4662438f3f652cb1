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

package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watcher invalidates cached handles when their files change on disk.
// The next GetOrBuild rebuilds them.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]struct{}
	dirs    map[string]struct{}
	pending map[string]*time.Timer

	// onInvalidate is called after a path was invalidated. Tests use it.
	onInvalidate func(path string)
}

// NewWatcher creates a watcher bound to cache.
func NewWatcher(cache *Cache) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		cache:   cache,
		watcher: fw,
		files:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Add starts watching path. Its directory is watched since editors often
// replace files instead of writing in place.
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; !ok {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[path] = struct{}{}
	return nil
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok
}

// Run processes file events until ctx ends or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)
			if !w.watched(path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.schedule(ctx, path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Document watcher error", "error", err)
		}
	}
}

// schedule coalesces bursts of events for one path into one invalidation.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		hook := w.onInvalidate
		w.mu.Unlock()

		slog.Info("Document changed, invalidating", "path", path)
		w.cache.Invalidate(context.WithoutCancel(ctx), path)
		if hook != nil {
			hook(path)
		}
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()
	return w.watcher.Close()
}
