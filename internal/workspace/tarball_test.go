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

package workspace

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTarballThenUnpackTarballRoundTrips(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, ".workflows", "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, ".workflows", "a.yaml"), []byte("actions: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, ".workflows", "nested", "b.yaml"), []byte("tasks: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteTarball(src, &buf); err != nil {
		t.Fatalf("WriteTarball: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "workspace")
	if err := UnpackTarball(context.Background(), &buf, dest, "rev-123"); err != nil {
		t.Fatalf("UnpackTarball: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, ".workflows", "a.yaml"))
	if err != nil {
		t.Fatalf("read unpacked file: %v", err)
	}
	if string(got) != "actions: {}\n" {
		t.Fatalf("unexpected content: %q", got)
	}

	nested, err := os.ReadFile(filepath.Join(dest, ".workflows", "nested", "b.yaml"))
	if err != nil {
		t.Fatalf("read unpacked nested file: %v", err)
	}
	if string(nested) != "tasks: {}\n" {
		t.Fatalf("unexpected nested content: %q", nested)
	}

	if rev := CachedRevision(dest); rev != "rev-123" {
		t.Fatalf("expected cached revision rev-123, got %q", rev)
	}
}

func TestCachedRevision_EmptyWhenUnset(t *testing.T) {
	if rev := CachedRevision(t.TempDir()); rev != "" {
		t.Fatalf("expected empty revision, got %q", rev)
	}
}

func TestSyncWorkspace_SkipsDownloadWhenRevisionUnchanged(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "workspace")
	if err := UnpackTarball(context.Background(), emptyTarball(t), dest, "rev-1"); err != nil {
		t.Fatalf("seed UnpackTarball: %v", err)
	}

	called := false
	fetch := func(ctx context.Context, ifRevision string) (string, io.ReadCloser, error) {
		called = true
		if ifRevision != "rev-1" {
			t.Fatalf("expected cached revision rev-1 to be passed, got %q", ifRevision)
		}
		return "rev-1", nil, nil
	}

	rev, err := SyncWorkspace(context.Background(), dest, fetch)
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if !called {
		t.Fatal("expected fetch to be called")
	}
	if rev != "rev-1" {
		t.Fatalf("expected rev-1, got %s", rev)
	}
}

func TestSyncWorkspace_UnpacksWhenRevisionChanges(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "workspace")
	if err := UnpackTarball(context.Background(), emptyTarball(t), dest, "rev-1"); err != nil {
		t.Fatalf("seed UnpackTarball: %v", err)
	}

	fetch := func(ctx context.Context, ifRevision string) (string, io.ReadCloser, error) {
		return "rev-2", io.NopCloser(emptyTarball(t)), nil
	}

	rev, err := SyncWorkspace(context.Background(), dest, fetch)
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if rev != "rev-2" {
		t.Fatalf("expected rev-2, got %s", rev)
	}
	if got := CachedRevision(dest); got != "rev-2" {
		t.Fatalf("expected sidecar to record rev-2, got %s", got)
	}
}

func emptyTarball(t *testing.T) *bytes.Buffer {
	t.Helper()
	src := t.TempDir()
	var buf bytes.Buffer
	if err := WriteTarball(src, &buf); err != nil {
		t.Fatalf("WriteTarball: %v", err)
	}
	return &buf
}
