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

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tombee/orbital/internal/events"
	"github.com/tombee/orbital/internal/logarchive"
	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/workspace"
)

// jobRequest is the worker-facing wire shape for POST /jobs.
type jobRequest struct {
	UUID   string         `json:"uuid,omitempty"`
	Task   string         `json:"task,omitempty"`
	Action string         `json:"action,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode job request: %v", err), http.StatusBadRequest)
		return
	}
	if (req.Task == "") == (req.Action == "") {
		http.Error(w, "exactly one of task or action is required", http.StatusBadRequest)
		return
	}

	job := &queue.Job{
		JobID:      req.UUID,
		TaskName:   req.Task,
		ActionName: req.Action,
		Input:      req.Input,
		Queued:     time.Now().UTC(),
		Status:     queue.StatusQueued,
		SourceType: queue.SourceAPI,
	}

	id, err := s.Queue.Enqueue(r.Context(), job)
	if err != nil {
		http.Error(w, fmt.Sprintf("enqueue: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": id})
}

func (s *Server) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}

	job, err := s.Queue.Claim(r.Context(), workerID)
	if err != nil {
		http.Error(w, fmt.Sprintf("claim: %v", err), http.StatusInternalServerError)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type startRequest struct {
	StartDatetime time.Time      `json:"start_datetime"`
	Input         map[string]any `json:"input"`
}

func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	workerID := r.URL.Query().Get("worker_id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode start request: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.Queue.UpdateStart(r.Context(), jobID, workerID, req.StartDatetime, req.Input); err != nil {
		http.Error(w, fmt.Sprintf("update start: %v", err), http.StatusInternalServerError)
		return
	}

	s.publish(jobID, "job_start", map[string]any{"job_id": jobID, "input": req.Input})
	w.WriteHeader(http.StatusNoContent)
}

type resultRequest struct {
	Success       bool           `json:"success"`
	StartDatetime time.Time      `json:"start_datetime"`
	EndDatetime   time.Time      `json:"end_datetime"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Revision      string         `json:"revision,omitempty"`
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode result: %v", err), http.StatusBadRequest)
		return
	}

	result := queue.Result{
		Success:       req.Success,
		StartDatetime: req.StartDatetime,
		EndDatetime:   req.EndDatetime,
		Input:         req.Input,
		Output:        req.Output,
		Revision:      req.Revision,
	}
	if err := s.Queue.UpdateResult(r.Context(), jobID, result); err != nil {
		http.Error(w, fmt.Sprintf("update result: %v", err), http.StatusInternalServerError)
		return
	}

	if s.Archive != nil {
		_ = s.Archive.JobDone(r.Context(), jobID)
	}

	s.publish(jobID, "job_result", map[string]any{"job_id": jobID, "success": req.Success, "output": req.Output})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStepStart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	step := r.PathValue("step")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode step start: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.Queue.UpdateStepStart(r.Context(), jobID, step, req.StartDatetime, req.Input); err != nil {
		http.Error(w, fmt.Sprintf("update step start: %v", err), http.StatusInternalServerError)
		return
	}

	s.publish(jobID, "step_start", map[string]any{"job_id": jobID, "step_name": step, "input": req.Input})
	w.WriteHeader(http.StatusNoContent)
}

type stepResultRequest struct {
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	EndDatetime time.Time      `json:"end_datetime"`
}

func (s *Server) handleStepResults(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	step := r.PathValue("step")

	var req stepResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode step result: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.Queue.UpdateStepResult(r.Context(), jobID, step, req.EndDatetime, req.Output, req.Success); err != nil {
		http.Error(w, fmt.Sprintf("update step result: %v", err), http.StatusInternalServerError)
		return
	}

	s.publish(jobID, "step_result", map[string]any{"job_id": jobID, "step_name": step, "success": req.Success, "output": req.Output})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	s.ingestLogs(w, r, r.PathValue("job_id"), "")
}

func (s *Server) handleStepLogs(w http.ResponseWriter, r *http.Request) {
	s.ingestLogs(w, r, r.PathValue("job_id"), r.PathValue("step"))
}

func (s *Server) ingestLogs(w http.ResponseWriter, r *http.Request, jobID, step string) {
	var entries []logarchive.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		http.Error(w, fmt.Sprintf("decode log batch: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.Archive.SaveLogs(r.Context(), jobID, step, entries); err != nil {
		http.Error(w, fmt.Sprintf("save logs: %v", err), http.StatusInternalServerError)
		return
	}

	eventName := "job_logs"
	if step != "" {
		eventName = "step_logs"
	}
	s.publish(jobID, eventName, map[string]any{"job_id": jobID, "step_name": step, "entries": entries})
	w.WriteHeader(http.StatusNoContent)
}

// handleHealthz is an unauthenticated liveness probe: readiness of the
// server's own collaborators (queue, archive) isn't checked here, since a
// worker polling this via lifecycle.HealthChecker only needs to know the
// listener itself has come up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWorkspaceHead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Revision", s.Workspace.Revision())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWorkspaceGet(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := workspace.WriteTarball(s.WorkspaceRoot, &buf); err != nil {
		http.Error(w, fmt.Sprintf("write tarball: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Revision", s.Workspace.Revision())
	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// publish is a no-op when Events is nil, so control-plane handlers can be
// exercised in tests without wiring a registry.
func (s *Server) publish(jobID, name string, data map[string]any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(jobID, events.Event{Name: name, Data: data, Timestamp: time.Now().UTC()})
}

