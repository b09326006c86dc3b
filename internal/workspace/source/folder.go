// Copyright 2025 Tom Barlow
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

package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long Watch waits for filesystem activity to go
// quiet before firing its callback once.
const watchDebounce = 5 * time.Second

// FolderSource is a workspace rooted at a local directory. Its revision
// is a content hash over the whole tree, so two checkouts with
// identical files always agree on revision regardless of mtimes.
type FolderSource struct {
	Root string

	mu       sync.Mutex
	revision string
	synced   bool
}

// NewFolderSource returns a source rooted at root.
func NewFolderSource(root string) *FolderSource {
	return &FolderSource{Root: root}
}

// Sync recomputes the tree hash. A folder source has nothing to fetch,
// so Sync never fails unless the tree is unreadable.
func (f *FolderSource) Sync(ctx context.Context) (string, error) {
	rev, err := HashTree(f.Root)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.revision = rev
	f.synced = true
	f.mu.Unlock()

	return rev, nil
}

// Revision returns the last hash computed by Sync.
func (f *FolderSource) Revision() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision, f.synced
}

// Watch uses OS filesystem notifications across every directory in the
// tree, coalescing bursts of events with a 5-second idle window: any
// event resets the timer, and the callback fires at most once per quiet
// period. Access-only events (fsnotify.Chmod with nothing else) are
// ignored.
func (f *FolderSource) Watch(ctx context.Context, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()

	if err := addTreeToWatcher(watcher, f.Root); err != nil {
		return
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if evt.Op == fsnotify.Chmod {
				continue
			}
			if !pending {
				timer.Reset(watchDebounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
		case <-timer.C:
			pending = false
			onChange()
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func addTreeToWatcher(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// HashTree hashes root's file tree with a 256-bit digest: every regular
// file's relative path followed by its bytes, in sorted path order.
func HashTree(root string) (string, error) {
	var relPaths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk tree: %w", err)
	}
	sort.Strings(relPaths)

	h := sha256.New()
	for _, rel := range relPaths {
		h.Write([]byte(rel))

		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return "", fmt.Errorf("open %s: %w", rel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
