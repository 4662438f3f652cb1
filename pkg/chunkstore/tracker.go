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
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StaleDataError explains why stored chunks cannot be reused. It never
// leaves the tracker's ShouldReuse; callers only see "reparse".
type StaleDataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *StaleDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stale data for %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("stale data for %s: %s", e.Path, e.Reason)
}

func (e *StaleDataError) Unwrap() error {
	return e.Err
}

// StalenessTracker compares stored fingerprints against live files.
type StalenessTracker struct {
	store *Store
}

func NewStalenessTracker(store *Store) *StalenessTracker {
	return &StalenessTracker{store: store}
}

// Check returns nil when the record for path was stored from a file
// at least as new as liveModifiedAt, and a *StaleDataError otherwise.
func (t *StalenessTracker) Check(ctx context.Context, path string, liveModifiedAt time.Time) error {
	fp, err := t.store.Fingerprint(ctx, path)
	if err != nil {
		reason := "lookup failed"
		if errors.Is(err, ErrNotFound) {
			reason = "no stored record"
		}
		return &StaleDataError{Path: path, Reason: reason, Err: err}
	}
	if fp.ModifiedAt.Before(liveModifiedAt) {
		return &StaleDataError{
			Path:   path,
			Reason: fmt.Sprintf("stored %s is older than live %s", fp.ModifiedAt.Format(time.RFC3339Nano), liveModifiedAt.Format(time.RFC3339Nano)),
		}
	}
	return nil
}

// ShouldReuse reports whether stored chunks for path are still valid.
// Any failure to decide counts as stale.
func (t *StalenessTracker) ShouldReuse(ctx context.Context, path string, liveModifiedAt time.Time) bool {
	err := t.Check(ctx, path, liveModifiedAt)
	if err != nil {
		slog.Debug("Stored chunks not reusable", "path", path, "reason", err)
		return false
	}
	return true
}
