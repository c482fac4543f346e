// Copyright (c) 2026 Bambinounos
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

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current catalog snapshot behind an atomic pointer.
// Readers always see one consistent snapshot; Refresh swaps the pointer
// copy-on-write and never mutates a published snapshot.
type Store struct {
	path string
	snap atomic.Pointer[Snapshot]
}

// NewStore loads the initial snapshot from path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.snap.Store(snap)
	slog.Info("catalog loaded",
		"path", path,
		"version", snap.Version,
		"entries", len(snap.Entries),
	)
	return s, nil
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Refresh re-reads the catalog file and swaps the snapshot if its version
// changed. A failed read keeps the previous snapshot in place.
func (s *Store) Refresh() error {
	snap, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}
	old := s.snap.Load()
	if old != nil && old.Version == snap.Version {
		return nil
	}
	s.snap.Store(snap)
	slog.Info("catalog refreshed",
		"version", snap.Version,
		"entries", len(snap.Entries),
	)
	return nil
}

// Watch reloads the snapshot on file write events until ctx is cancelled.
// Events are debounced because editors and atomic renames fire several.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}

	// Watch the directory: rename-based saves replace the file inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		target := filepath.Base(s.path)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := s.Refresh(); err != nil {
						slog.Warn("catalog reload failed", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("catalog watcher error", "error", err)
			}
		}
	}()

	return nil
}
