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

package logarchive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/orbital/internal/filelock"
)

// cacheRetention is how long a cache file survives after its last write
// before CleanCache reclaims it.
const cacheRetention = 15 * 24 * time.Hour

// Cache is the local half of the archive: newline-delimited JSON files on
// disk, falling back to BackingStore on a miss.
type Cache struct {
	dir         string
	backing     BackingStore
	lockTimeout time.Duration
}

// New returns a Cache rooted at dir, backed by store. dir is created if
// it doesn't already exist.
func New(dir string, store BackingStore) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, backing: store, lockTimeout: filelock.DefaultTimeout}, nil
}

// cacheFileName returns the cache file for (job, step). Job-scoped files
// (step == "") and step-scoped files both match the glob "<job>*.jsonl"
// that JobDone uses to collect everything belonging to one job.
func cacheFileName(job, step string) string {
	if step == "" {
		return job + ".jsonl"
	}
	return job + "." + step + ".jsonl"
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *Cache) lockPath(name string) string {
	return filepath.Join(c.dir, "."+name+".lock")
}

// SaveLogs appends entries to the (job, step) cache file under an
// exclusive advisory lock, serialising concurrent writers.
func (c *Cache) SaveLogs(ctx context.Context, job, step string, entries []Entry) error {
	name := cacheFileName(job, step)
	lock, err := filelock.Acquire(ctx, c.lockPath(name), c.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	f, err := os.OpenFile(c.path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}
	return nil
}

// GetLogs opens the (job, step) cache file, fetching and unpacking the
// job's archive from backing storage first if it isn't already cached.
func (c *Cache) GetLogs(ctx context.Context, job, step string) (io.ReadCloser, error) {
	name := cacheFileName(job, step)
	path := c.path(name)

	if f, err := os.Open(path); err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open cache file: %w", err)
	}

	jobLock, err := filelock.Acquire(ctx, c.lockPath(job), c.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer jobLock.Release()

	// Re-check: another goroutine may have populated the cache while we
	// waited for the lock.
	if f, err := os.Open(path); err == nil {
		return f, nil
	}

	if err := c.fetchAndUnpack(ctx, job); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache file after fetch: %w", err)
	}
	return f, nil
}

func (c *Cache) fetchAndUnpack(ctx context.Context, job string) error {
	r, err := c.backing.Download(ctx, job+".tgz")
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(c.path(filepath.Base(hdr.Name)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("create unpacked file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("unpack file: %w", err)
		}
		out.Close()
	}
}

// JobDone packs every "<job>*.jsonl" cache file into a gzipped tar,
// uploads it to backing storage, removes the local tarball, and sweeps
// the cache for expired entries.
func (c *Cache) JobDone(ctx context.Context, job string) error {
	jobLock, err := filelock.Acquire(ctx, c.lockPath(job), c.lockTimeout)
	if err != nil {
		return err
	}
	defer jobLock.Release()

	matches, err := filepath.Glob(filepath.Join(c.dir, job+"*.jsonl"))
	if err != nil {
		return fmt.Errorf("glob cache files: %w", err)
	}
	if len(matches) == 0 {
		return c.CleanCache(ctx)
	}

	tgzPath := c.path(job + ".tgz")
	if err := packTarGz(tgzPath, matches); err != nil {
		return fmt.Errorf("pack archive: %w", err)
	}

	f, err := os.Open(tgzPath)
	if err != nil {
		return fmt.Errorf("open packed archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat packed archive: %w", err)
	}

	uploadErr := c.backing.Upload(ctx, job+".tgz", f, info.Size())
	f.Close()
	if uploadErr != nil {
		return fmt.Errorf("upload archive: %w", uploadErr)
	}

	if err := os.Remove(tgzPath); err != nil {
		return fmt.Errorf("remove local archive: %w", err)
	}

	return c.CleanCache(ctx)
}

func packTarGz(dest string, files []string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFileToTar(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// CleanCache deletes cache files (not lock files) whose modification
// time is older than the retention window.
func (c *Cache) CleanCache(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}

	cutoff := time.Now().Add(-cacheRetention)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(c.path(entry.Name()))
		}
	}
	return nil
}
