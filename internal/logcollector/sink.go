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

// Package logcollector is the worker/runner-side half of the log pipeline:
// it accepts timestamped, stream-tagged log lines from a running action and
// delivers them either to the server (batched over HTTP) or to the local
// console.
package logcollector

import (
	"context"
	"time"
)

// Entry is one timestamped, stream-tagged, ANSI-stripped line of captured
// output. Its JSON shape is the archive's newline-delimited wire format.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	IsStderr  bool      `json:"is_stderr"`
	Message   string    `json:"message"`
}

// Sink is the capability set a runner uses while executing one job: log
// lines, an optional step scope, start/result markers, and an explicit
// flush before shutdown.
type Sink interface {
	// Log appends one entry to the current step's stream (or the
	// job-scoped stream if no step is set).
	Log(entry Entry)

	// SetStepName scopes subsequent Log calls to step, or clears the
	// scope back to job-level when step is "".
	SetStepName(step string)

	// MarkStart records that the job (or current step) has started.
	MarkStart(ctx context.Context, ts time.Time, input map[string]any) error

	// StoreResult records the terminal outcome of the job (or current step).
	StoreResult(ctx context.Context, success bool, output map[string]any) error

	// Flush blocks until all buffered entries have been delivered.
	Flush(ctx context.Context) error
}
