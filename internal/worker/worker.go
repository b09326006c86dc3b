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

// Package worker is the long-lived poller that claims jobs from the
// server's control plane, syncs the workspace bundle, and spawns a
// short-lived runner child process per job. It never executes an action
// itself — that is internal/runnerproc's job, run out-of-process so a
// runaway or crashing job can never take the worker down with it.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/workspace"
)

const defaultPollInterval = time.Second

// Config configures a Worker.
type Config struct {
	ServerURL    string
	WorkerID     string
	WorkspaceDir string
	RunnerBinary string
	Token        string

	// Concurrency bounds the number of runner processes in flight at
	// once. Zero selects spec §5's default of 5.
	Concurrency int

	// PollInterval is how often the worker asks for a job when its last
	// claim attempt came back empty. Zero selects a 1-second default.
	PollInterval time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// Worker polls one server for jobs and runs them under bounded
// concurrency via a counting semaphore, per spec §5.
type Worker struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	sem    chan struct{}
}

// New builds a Worker from cfg, applying its defaults.
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		client: cfg.Client,
		logger: cfg.Logger.With(slog.String("component", "worker"), slog.String("worker_id", cfg.WorkerID)),
		sem:    make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls until ctx is cancelled. Jobs already dispatched to a runner
// child process are not cancelled on ctx cancellation, per spec §5 (a
// worker shutdown does not kill in-flight runners); Run only stops
// claiming new work and returns once every in-flight slot has drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case w.sem <- struct{}{}:
		}

		job, err := w.claimNext(ctx)
		if err != nil {
			w.logger.Error("claim failed", slog.Any("error", err))
			<-w.sem
			w.sleep(ctx)
			continue
		}
		if job == nil {
			<-w.sem
			w.sleep(ctx)
			continue
		}

		go func() {
			defer func() { <-w.sem }()
			w.runJob(context.Background(), job)
		}()
	}
}

func (w *Worker) drain() {
	for i := 0; i < cap(w.sem); i++ {
		w.sem <- struct{}{}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) claimNext(ctx context.Context) (*queue.Job, error) {
	url := fmt.Sprintf("%s/jobs/next?worker_id=%s", w.cfg.ServerURL, w.cfg.WorkerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build claim request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("claim: unexpected status %d", resp.StatusCode)
	}

	var job queue.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode claimed job: %w", err)
	}
	return &job, nil
}

// runJob syncs the workspace bundle to the server's current revision, then
// spawns and waits on a runner child process, synchronously, for the
// entire lifetime of the held semaphore permit.
func (w *Worker) runJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(slog.String("job_id", job.JobID))

	revision, err := workspace.SyncWorkspace(ctx, w.cfg.WorkspaceDir, w.fetchWorkspace)
	if err != nil {
		logger.Error("workspace sync failed", slog.Any("error", err))
		return
	}
	logger.Info("workspace synced", slog.String("revision", revision))

	args := []string{
		"--server", w.cfg.ServerURL,
		"--job-id", job.JobID,
		"--worker-id", w.cfg.WorkerID,
		"--workspace", w.cfg.WorkspaceDir,
	}
	if w.cfg.Token != "" {
		args = append(args, "--token", w.cfg.Token)
	}
	switch {
	case job.TaskName != "":
		args = append(args, "--task", job.TaskName)
	case job.ActionName != "":
		args = append(args, "--action", job.ActionName)
	default:
		logger.Error("claimed job has neither task nor action set")
		return
	}
	if job.Input != nil {
		encoded, err := json.Marshal(job.Input)
		if err != nil {
			logger.Error("encode job input failed", slog.Any("error", err))
			return
		}
		args = append(args, "--input", string(encoded))
	}

	cmd := exec.CommandContext(ctx, w.cfg.RunnerBinary, args...)
	cmd.Stdout = &logWriter{logger: logger, stderr: false}
	cmd.Stderr = &logWriter{logger: logger, stderr: true}

	if err := cmd.Run(); err != nil {
		logger.Error("runner exited non-zero", slog.Any("error", err))
		return
	}
	logger.Info("runner completed")
}

// fetchWorkspace is workspace.SyncWorkspace's transport: a HEAD probe to
// short-circuit an unchanged workspace, falling back to a full GET.
func (w *Worker) fetchWorkspace(ctx context.Context, ifRevision string) (string, io.ReadCloser, error) {
	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, w.cfg.ServerURL+"/files/workspace.tar.gz", nil)
	if err != nil {
		return "", nil, fmt.Errorf("build head request: %w", err)
	}
	headResp, err := w.client.Do(headReq)
	if err != nil {
		return "", nil, fmt.Errorf("head workspace: %w", err)
	}
	headResp.Body.Close()
	revision := headResp.Header.Get("X-Revision")

	if revision != "" && revision == ifRevision {
		return revision, nil, nil
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.ServerURL+"/files/workspace.tar.gz", nil)
	if err != nil {
		return "", nil, fmt.Errorf("build get request: %w", err)
	}
	getResp, err := w.client.Do(getReq)
	if err != nil {
		return "", nil, fmt.Errorf("get workspace: %w", err)
	}
	if getResp.StatusCode >= 300 {
		getResp.Body.Close()
		return "", nil, fmt.Errorf("get workspace: unexpected status %d", getResp.StatusCode)
	}
	return getResp.Header.Get("X-Revision"), getResp.Body, nil
}

// logWriter adapts a runner child's stdout/stderr pipe into structured log
// lines, since the child itself already ships its own logs to the control
// plane via logcollector.ServerSink; this is a local operability mirror
// only.
type logWriter struct {
	logger *slog.Logger
	stderr bool
}

func (l *logWriter) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	if l.stderr {
		l.logger.Warn(string(line), slog.String("stream", "stderr"))
	} else {
		l.logger.Info(string(line), slog.String("stream", "stdout"))
	}
	return len(p), nil
}
