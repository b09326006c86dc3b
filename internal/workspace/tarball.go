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
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tombee/orbital/internal/filelock"
)

// revisionSidecar is the worker-local file recording the revision of the
// last successfully unpacked tarball, so a worker can skip a redundant
// unpack when the server reports the same revision via X-Revision.
const revisionSidecar = ".revision"

// WriteTarball gzips and tars every file under root (server side, producing
// the bytes served at GET /files/workspace.tar.gz).
func WriteTarball(root string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("write tarball: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	return gz.Close()
}

// UnpackTarball unpacks a gzipped tar stream into dir, serialised by an
// advisory exclusive lock on dir so concurrent unpacks on one machine never
// interleave. After a successful unpack it records revision in a sidecar
// file.
func UnpackTarball(ctx context.Context, r io.Reader, dir, revision string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir workspace dir: %w", err)
	}

	lockPath := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".lock")
	lock, err := filelock.Acquire(ctx, lockPath, filelock.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer lock.Release()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := filepath.Join(dir, filepath.Clean(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			_, err = io.Copy(f, tr)
			closeErr := f.Close()
			if err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			if closeErr != nil {
				return fmt.Errorf("close %s: %w", hdr.Name, closeErr)
			}
		}
	}

	return os.WriteFile(filepath.Join(dir, revisionSidecar), []byte(revision), 0o644)
}

// CachedRevision returns the revision recorded by the last successful
// UnpackTarball call into dir, or "" if none exists yet.
func CachedRevision(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, revisionSidecar))
	if err != nil {
		return ""
	}
	return string(data)
}

// SyncWorkspace fetches the tarball from server's /files/workspace.tar.gz
// endpoint when the server-reported revision differs from the sidecar
// revision already on disk, skipping the download otherwise. fetch performs
// the HTTP round-trip and returns the server's revision header plus a
// readable body (or a nil body and the current revision if nothing changed).
func SyncWorkspace(ctx context.Context, dir string, fetch func(ctx context.Context, ifRevision string) (revision string, body io.ReadCloser, err error)) (string, error) {
	current := CachedRevision(dir)

	revision, body, err := fetch(ctx, current)
	if err != nil {
		return "", fmt.Errorf("fetch workspace: %w", err)
	}
	if body == nil {
		return revision, nil
	}
	defer body.Close()

	if err := UnpackTarball(ctx, body, dir, revision); err != nil {
		return "", err
	}
	return revision, nil
}
