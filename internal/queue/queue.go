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

// Package queue defines the durable job queue contract shared by the
// Postgres, SQLite, and in-memory backends.
package queue

import (
	"context"
	"time"
)

// SourceType records who caused a job to be enqueued.
type SourceType string

const (
	SourceUser    SourceType = "user"
	SourceTrigger SourceType = "trigger"
	SourceAPI     SourceType = "api"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one row of the job table: either a task run or a one-off action
// invocation, never both.
type Job struct {
	JobID      string
	TaskName   string
	ActionName string
	Input      map[string]any
	Queued     time.Time
	Status     Status
	SourceType SourceType
	SourceID   string

	WorkerID string
	Picked   *time.Time

	StartDatetime *time.Time
	EndDatetime   *time.Time
	Output        map[string]any
	Success       *bool
}

// Step is one row of the job_step table, keyed by (JobID, StepName).
type Step struct {
	JobID         string
	StepName      string
	StartDatetime *time.Time
	EndDatetime   *time.Time
	Input         map[string]any
	Output        map[string]any
	Success       *bool
}

// Result is the terminal outcome of a job as posted by the runner.
type Result struct {
	Success       bool
	StartDatetime time.Time
	EndDatetime   time.Time
	Input         map[string]any
	Output        map[string]any
	Revision      string
}

// Store is the durable job queue contract. Claim must be atomic so that
// concurrent callers never double-claim the same job; the SQL backends get
// this from a SELECT and an UPDATE inside one locking transaction, not from
// a single statement.
type Store interface {
	// Enqueue assigns a UUID to job if JobID is empty, inserts it with
	// status queued, and returns the assigned id.
	Enqueue(ctx context.Context, job *Job) (string, error)

	// Claim atomically selects one queued, unassigned job ordered by
	// Queued ascending, assigns it to workerID, sets Picked and status
	// running, and returns it. Claim returns (nil, nil) when no job is
	// available.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// UpdateStart records the runner-supplied start timestamp and input.
	// Permitted only when the job is running under the same worker.
	UpdateStart(ctx context.Context, jobID, workerID string, start time.Time, input map[string]any) error

	// UpdateResult sets the job's terminal status and output. Permitted
	// regardless of worker id, so a crash-recovery sweep can still close
	// out a job whose original worker is gone.
	UpdateResult(ctx context.Context, jobID string, result Result) error

	// UpdateStepStart upserts the step's start timestamp and input on
	// (JobID, StepName).
	UpdateStepStart(ctx context.Context, jobID, stepName string, start time.Time, input map[string]any) error

	// UpdateStepResult upserts the step's terminal fields on
	// (JobID, StepName).
	UpdateStepResult(ctx context.Context, jobID, stepName string, end time.Time, output map[string]any, success bool) error

	// GetJob returns a job by id, or (nil, nil) if it doesn't exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs returns jobs ordered by Queued descending, most recent first.
	ListJobs(ctx context.Context, limit, offset int) ([]*Job, error)

	// GetSteps returns every step recorded for a job.
	GetSteps(ctx context.Context, jobID string) ([]*Step, error)

	Close() error
}
