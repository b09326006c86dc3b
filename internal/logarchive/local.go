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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalBackingStore stores archives in a configured folder on the local
// filesystem, for single-node deployments with no object store.
type LocalBackingStore struct {
	Dir string
}

// NewLocalBackingStore returns a store rooted at dir, creating it if
// necessary.
func NewLocalBackingStore(dir string) (*LocalBackingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backing dir: %w", err)
	}
	return &LocalBackingStore{Dir: dir}, nil
}

func (s *LocalBackingStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	dst, err := os.Create(filepath.Join(s.Dir, key))
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("copy %s: %w", key, err)
	}
	return nil
}

func (s *LocalBackingStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}
