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

package worker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tombee/orbital/internal/events"
	"github.com/tombee/orbital/internal/httpapi"
	"github.com/tombee/orbital/internal/logarchive"
	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/queue/memory"
	"github.com/tombee/orbital/internal/workspace"
)

// fakeRunnerScript writes a tiny shell script masquerading as
// cmd/orbital-runner: it just exits 0, proving the worker invoked it with
// a runnable command line.
func fakeRunnerScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner script is POSIX shell only")
	}
	path := filepath.Join(t.TempDir(), "fake-runner.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake runner: %v", err)
	}
	return path
}

func newTestControlPlane(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".workflows"), 0o755); err != nil {
		t.Fatalf("mkdir workflows: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".workflows", "main.yaml"), []byte(`
actions:
  greet:
    type: shell
    command: echo hi
tasks:
  demo:
    flow:
      only:
        action: greet
`), 0o644); err != nil {
		t.Fatalf("write workflows: %v", err)
	}

	mgr, err := workspace.NewManager(root)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	backing, err := logarchive.NewLocalBackingStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackingStore: %v", err)
	}
	cache, err := logarchive.New(t.TempDir(), backing)
	if err != nil {
		t.Fatalf("logarchive.New: %v", err)
	}

	srv := &httpapi.Server{
		Queue:         memory.New(),
		Archive:       cache,
		Events:        events.NewRegistry(),
		Workspace:     mgr,
		WorkspaceRoot: root,
	}
	return httptest.NewServer(srv.Routes()), root
}

func TestWorkerClaimsAndRunsJob(t *testing.T) {
	runner := fakeRunnerScript(t)
	server, _ := newTestControlPlane(t)
	defer server.Close()

	enqueueResp, err := server.Client().Post(server.URL+"/jobs", "application/json", strings.NewReader(`{"task": "demo"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	defer enqueueResp.Body.Close()
	if enqueueResp.StatusCode != 201 {
		t.Fatalf("enqueue status = %d", enqueueResp.StatusCode)
	}
	var created map[string]string
	if err := json.NewDecoder(enqueueResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	jobID := created["job_id"]

	w := New(Config{
		ServerURL:    server.URL,
		WorkerID:     "w1",
		WorkspaceDir: t.TempDir(),
		RunnerBinary: runner,
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	var job *queue.Job
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		resp, err := server.Client().Get(server.URL + "/api/jobs/" + jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		var env struct {
			Success bool       `json:"success"`
			Data    *queue.Job `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode job envelope: %v", err)
		}
		resp.Body.Close()
		if env.Success && env.Data != nil && env.Data.WorkerID == "w1" {
			job = env.Data
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job == nil {
		t.Fatal("expected worker w1 to have claimed the job")
	}
	if job.Status != queue.StatusRunning {
		t.Fatalf("expected job to be running once claimed, got %q", job.Status)
	}

	cancel()
	<-done
}
