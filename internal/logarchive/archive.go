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

// Package logarchive is the server-side half of the log pipeline: a local
// cache backed by durable object storage (local filesystem or S3), with
// per-file advisory locking for concurrent writers and lazy fetch-on-miss
// reads.
package logarchive

import (
	"context"
	"io"
)

// Archive is the capability set the control plane uses to persist and
// retrieve a job's logs.
type Archive interface {
	// SaveLogs appends entries to the per-(job, step) cache file. step is
	// "" for job-scoped (as opposed to step-scoped) entries.
	SaveLogs(ctx context.Context, job, step string, entries []Entry) error

	// GetLogs returns a lazy stream of the job's (or step's) log lines,
	// fetching the job's archive from backing storage into the cache on
	// a cache miss.
	GetLogs(ctx context.Context, job, step string) (io.ReadCloser, error)

	// JobDone packs every cache file for job into a gzipped tar, uploads
	// it to backing storage, deletes the local archive, and triggers a
	// cache sweep.
	JobDone(ctx context.Context, job string) error

	// CleanCache deletes cache files older than the retention window.
	CleanCache(ctx context.Context) error
}

// Entry is one archived log line. Its JSON shape matches
// logcollector.Entry so the wire format is identical end to end.
type Entry struct {
	Timestamp string `json:"timestamp"`
	IsStderr  bool   `json:"is_stderr"`
	Message   string `json:"message"`
}

// BackingStore is the durable object store an Archive falls back to on a
// cache miss and uploads to on job completion.
type BackingStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}
