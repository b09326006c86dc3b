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

// Package memory provides an in-memory queue.Store for tests and the
// single-process quickstart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/orbital/internal/queue"
)

// Store is a mutex-guarded in-memory implementation of queue.Store. It
// preserves insertion order for ties in Claim and ListJobs.
type Store struct {
	mu    sync.Mutex
	jobs  map[string]*queue.Job
	order []string
	steps map[string]map[string]*queue.Step // jobID -> stepName -> step
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*queue.Job),
		steps: make(map[string]map[string]*queue.Step),
	}
}

func clone(j *queue.Job) *queue.Job {
	cp := *j
	return &cp
}

func (s *Store) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if _, exists := s.jobs[job.JobID]; exists {
		return "", fmt.Errorf("queue: job %s already enqueued", job.JobID)
	}

	job.Status = queue.StatusQueued
	if job.Queued.IsZero() {
		job.Queued = time.Now().UTC()
	}

	s.jobs[job.JobID] = clone(job)
	s.order = append(s.order, job.JobID)
	return job.JobID, nil
}

// Claim atomically flips the queued, unassigned job with the earliest Queued
// time to running, breaking ties by enqueue order. The single mutex held for
// the whole operation gives the same at-most-one-claim guarantee the SQL
// backends get from their locking claim transaction.
func (s *Store) Claim(ctx context.Context, workerID string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pick *queue.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != queue.StatusQueued || j.WorkerID != "" {
			continue
		}
		if pick == nil || j.Queued.Before(pick.Queued) {
			pick = j
		}
	}
	if pick == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	pick.WorkerID = workerID
	pick.Picked = &now
	pick.Status = queue.StatusRunning
	return clone(pick), nil
}

func (s *Store) UpdateStart(ctx context.Context, jobID, workerID string, start time.Time, input map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue: job %s not found", jobID)
	}
	if j.Status != queue.StatusRunning || j.WorkerID != workerID {
		return fmt.Errorf("queue: job %s is not running under worker %s", jobID, workerID)
	}
	j.StartDatetime = &start
	j.Input = input
	return nil
}

func (s *Store) UpdateResult(ctx context.Context, jobID string, result queue.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue: job %s not found", jobID)
	}
	if result.Success {
		j.Status = queue.StatusCompleted
	} else {
		j.Status = queue.StatusFailed
	}
	start := result.StartDatetime
	end := result.EndDatetime
	j.StartDatetime = &start
	j.EndDatetime = &end
	j.Output = result.Output
	success := result.Success
	j.Success = &success
	return nil
}

func (s *Store) UpdateStepStart(ctx context.Context, jobID, stepName string, start time.Time, input map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[jobID]; !ok {
		s.steps[jobID] = make(map[string]*queue.Step)
	}
	step, ok := s.steps[jobID][stepName]
	if !ok {
		step = &queue.Step{JobID: jobID, StepName: stepName}
		s.steps[jobID][stepName] = step
	}
	step.StartDatetime = &start
	step.Input = input
	return nil
}

func (s *Store) UpdateStepResult(ctx context.Context, jobID, stepName string, end time.Time, output map[string]any, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[jobID]; !ok {
		s.steps[jobID] = make(map[string]*queue.Step)
	}
	step, ok := s.steps[jobID][stepName]
	if !ok {
		step = &queue.Step{JobID: jobID, StepName: stepName}
		s.steps[jobID][stepName] = step
	}
	step.EndDatetime = &end
	step.Output = output
	step.Success = &success
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return clone(j), nil
}

func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*queue.Job, 0, len(s.jobs))
	for _, id := range s.order {
		all = append(all, clone(s.jobs[id]))
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Queued.After(all[j].Queued) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) GetSteps(ctx context.Context, jobID string) ([]*queue.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.steps[jobID]
	out := make([]*queue.Step, 0, len(byName))
	for _, step := range byName {
		cp := *step
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepName < out[j].StepName })
	return out, nil
}

func (s *Store) Close() error { return nil }
