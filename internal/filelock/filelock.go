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

// Package filelock provides advisory, cross-process exclusive file locking
// used both by the log archive cache (concurrent appenders to the same
// (job, step) file) and by the worker's workspace tarball unpack (concurrent
// runners on the same machine).
package filelock

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	orbitalerrors "github.com/tombee/orbital/pkg/errors"
)

// DefaultTimeout bounds how long Acquire waits for a contended lock before
// giving up.
const DefaultTimeout = 5 * time.Second

// Lock holds an exclusive advisory lock on a path, acquired via flock(2).
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if necessary) the file at path and blocks until
// an exclusive lock is obtained or timeout elapses. A timeout of zero uses
// DefaultTimeout.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- syscall.Flock(int(file.Fd()), syscall.LOCK_EX)
	}()

	select {
	case err := <-done:
		if err != nil {
			file.Close()
			return nil, &orbitalerrors.ContentionError{Resource: path, Cause: err}
		}
		return &Lock{file: file, path: path}, nil
	case <-lockCtx.Done():
		file.Close()
		return nil, &orbitalerrors.ContentionError{
			Resource: path,
			Cause:    fmt.Errorf("timed out after %v waiting for lock", timeout),
		}
	}
}

// Release unlocks and closes the underlying file. Release is idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		file.Close()
		return fmt.Errorf("filelock: unlock %s: %w", l.path, err)
	}
	return file.Close()
}
