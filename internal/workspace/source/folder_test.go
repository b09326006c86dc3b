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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFolderSource_SyncComputesStableRevision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "actions: {}\n")
	writeFile(t, filepath.Join(dir, "sub", "b.yaml"), "tasks: {}\n")

	f := NewFolderSource(dir)
	rev1, err := f.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rev1 == "" {
		t.Fatal("expected non-empty revision")
	}

	rev2, err := f.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rev1 != rev2 {
		t.Fatalf("expected stable revision, got %s then %s", rev1, rev2)
	}
}

func TestFolderSource_RevisionChangesWhenContentChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	writeFile(t, path, "actions: {}\n")

	f := NewFolderSource(dir)
	rev1, _ := f.Sync(context.Background())

	writeFile(t, path, "actions:\n  noop: {}\n")
	rev2, _ := f.Sync(context.Background())

	if rev1 == rev2 {
		t.Fatal("expected revision to change after content changed")
	}
}

func TestFolderSource_RevisionReportsNotSyncedBeforeFirstSync(t *testing.T) {
	f := NewFolderSource(t.TempDir())
	if _, ok := f.Revision(); ok {
		t.Fatal("expected ok=false before Sync")
	}
}

func TestFolderSource_WatchFiresAfterDebouncedQuietPeriod(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "actions: {}\n")

	f := NewFolderSource(dir)
	f.Sync(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	go f.Watch(ctx, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "a.yaml"), "actions:\n  noop: {}\n")

	select {
	case <-fired:
	case <-time.After(watchDebounce + 2*time.Second):
		t.Fatal("expected onChange to fire after debounce window")
	}
}

func TestHashTree_IgnoresDirectoriesAndOrdersByPath(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, filepath.Join(dirA, "z.yaml"), "z")
	writeFile(t, filepath.Join(dirA, "a.yaml"), "a")

	dirB := t.TempDir()
	writeFile(t, filepath.Join(dirB, "a.yaml"), "a")
	writeFile(t, filepath.Join(dirB, "z.yaml"), "z")

	hashA, err := HashTree(dirA)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	hashB, err := HashTree(dirB)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected identical trees to hash equally, got %s vs %s", hashA, hashB)
	}
}
