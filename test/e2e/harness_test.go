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

// Package e2e runs spec §8's testable-property scenarios against the real
// server (internal/httpapi), runner (internal/runnerproc), and log
// pipeline (internal/logcollector) wired together exactly as orbitald and
// orbital-runner wire them, minus the two binaries themselves: the runner
// side is driven in-process rather than as a child process, since a job's
// workspace sync and process boundary are internal/worker's concerns
// (already covered by internal/worker's own tests), not the task engine's.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/orbital/internal/events"
	"github.com/tombee/orbital/internal/httpapi"
	"github.com/tombee/orbital/internal/logarchive"
	"github.com/tombee/orbital/internal/logcollector"
	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/queue/memory"
	"github.com/tombee/orbital/internal/render"
	"github.com/tombee/orbital/internal/runnerproc"
	"github.com/tombee/orbital/internal/workspace"
)

func encodeJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

const testWorkerID = "w1"

// harness wires a real httpapi.Server over an httptest listener, backed
// by the in-memory queue and a local log archive, serving a workflow
// bundle written to a temp workspace root.
type harness struct {
	t      *testing.T
	server *httptest.Server
	root   string
	events *events.Registry
}

func newHarness(t *testing.T, workflowYAML string) *harness {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".workflows"), 0o755); err != nil {
		t.Fatalf("mkdir workflows: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".workflows", "main.yaml"), []byte(workflowYAML), 0o644); err != nil {
		t.Fatalf("write main.yaml: %v", err)
	}

	mgr, err := workspace.NewManager(root)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	backing, err := logarchive.NewLocalBackingStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackingStore: %v", err)
	}
	archive, err := logarchive.New(t.TempDir(), backing)
	if err != nil {
		t.Fatalf("logarchive.New: %v", err)
	}

	registry := events.NewRegistry()
	srv := &httpapi.Server{
		Queue:         memory.New(),
		Archive:       archive,
		Events:        registry,
		Workspace:     mgr,
		WorkspaceRoot: root,
	}

	h := &harness{
		t:      t,
		server: httptest.NewServer(srv.Routes()),
		root:   root,
		events: registry,
	}
	t.Cleanup(h.server.Close)
	return h
}

// enqueueTask posts a task job to the worker-facing queue route and
// returns its id.
func (h *harness) enqueueTask(task string, input map[string]any) string {
	h.t.Helper()
	return h.enqueue(map[string]any{"task": task, "input": input})
}

func (h *harness) enqueue(body map[string]any) string {
	h.t.Helper()
	encoded := encodeJSON(h.t, body)
	resp, err := h.server.Client().Post(h.server.URL+"/jobs", "application/json", strings.NewReader(encoded))
	if err != nil {
		h.t.Fatalf("enqueue: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("enqueue status = %d", resp.StatusCode)
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(h.t, resp, &created)
	return created.JobID
}

// claim pops one job off the queue via the same route a real worker
// polls, failing the test if nothing is queued.
func (h *harness) claim() *queue.Job {
	h.t.Helper()
	resp, err := h.server.Client().Get(h.server.URL + "/jobs/next?worker_id=" + testWorkerID)
	if err != nil {
		h.t.Fatalf("claim: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		h.t.Fatal("claim: no job queued")
	}
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("claim status = %d", resp.StatusCode)
	}
	var job queue.Job
	decodeJSON(h.t, resp, &job)
	return &job
}

// runClaimedJob drives internal/runnerproc exactly as cmd/orbital-runner
// would for the claimed job, against the harness's workspace root and
// server, and returns the runner's result once logs have been flushed.
func (h *harness) runClaimedJob(job *queue.Job) runnerproc.Result {
	h.t.Helper()

	cfg, err := workspace.Load(h.root)
	if err != nil {
		h.t.Fatalf("load workspace: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	sink := logcollector.NewServerSink(client, h.server.URL, job.JobID, testWorkerID)

	runner := runnerproc.New(runnerproc.Config{
		JobID:         job.JobID,
		WorkspaceRoot: h.root,
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	ctx := context.Background()
	var result runnerproc.Result
	if job.TaskName != "" {
		// RunTask only posts per-step start/result; the job-level pair
		// is cmd/orbital-runner's responsibility, so the harness brackets
		// the call the same way the real CLI does.
		sink.SetStepName("")
		if startErr := sink.MarkStart(ctx, time.Now().UTC(), job.Input); startErr != nil {
			h.t.Fatalf("job start: %v", startErr)
		}
		result, err = runner.RunTask(ctx, job.TaskName, job.Input)
		sink.SetStepName("")
		if resultErr := sink.StoreResult(ctx, result.Success, result.Output); resultErr != nil {
			h.t.Fatalf("job result: %v", resultErr)
		}
	} else {
		result, err = runner.RunAction(ctx, job.ActionName, job.Input)
	}
	if err != nil {
		h.t.Fatalf("run: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Flush(flushCtx); err != nil {
		h.t.Fatalf("flush: %v", err)
	}

	return result
}

func (h *harness) getJob(jobID string) *struct {
	*queue.Job
	Steps []*queue.Step `json:"steps"`
} {
	h.t.Helper()
	resp, err := h.server.Client().Get(h.server.URL + "/api/jobs/" + jobID)
	if err != nil {
		h.t.Fatalf("get job: %v", err)
	}
	defer resp.Body.Close()
	var env struct {
		Success bool `json:"success"`
		Data    *struct {
			*queue.Job
			Steps []*queue.Step `json:"steps"`
		} `json:"data"`
	}
	decodeJSON(h.t, resp, &env)
	if !env.Success || env.Data == nil {
		h.t.Fatalf("get job %s: envelope not successful", jobID)
	}
	return env.Data
}
