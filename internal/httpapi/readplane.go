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
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/workspace"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	cfg := s.Workspace.Current()
	tasks := make([]*workspace.Task, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		t := t
		tasks = append(tasks, &t)
	}
	writeData(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg := s.Workspace.Current()
	task, ok := cfg.Tasks[name]
	if !ok {
		writeEnvelopeError(w, fmt.Errorf("task %q: %w", name, errNotFound))
		return
	}
	writeData(w, http.StatusOK, task)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	jobs, err := s.Queue.ListJobs(r.Context(), limit, offset)
	if err != nil {
		writeEnvelopeError(w, err)
		return
	}
	writePaginated(w, http.StatusOK, jobs, map[string]int{"limit": limit, "offset": offset, "count": len(jobs)})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := s.Queue.GetJob(r.Context(), jobID)
	if err != nil {
		writeEnvelopeError(w, err)
		return
	}
	if job == nil {
		writeEnvelopeError(w, fmt.Errorf("job %q: %w", jobID, errNotFound))
		return
	}

	steps, err := s.Queue.GetSteps(r.Context(), jobID)
	if err != nil {
		writeEnvelopeError(w, err)
		return
	}
	writeData(w, http.StatusOK, jobWithSteps{Job: job, Steps: steps})
}

type jobWithSteps struct {
	*queue.Job
	Steps []*queue.Step `json:"steps"`
}

func (s *Server) handleReadJobLogs(w http.ResponseWriter, r *http.Request) {
	s.streamLogs(w, r, r.PathValue("job_id"), "")
}

func (s *Server) handleReadStepLogs(w http.ResponseWriter, r *http.Request) {
	s.streamLogs(w, r, r.PathValue("job_id"), r.PathValue("step"))
}

func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request, jobID, step string) {
	stream, err := s.Archive.GetLogs(r.Context(), jobID, step)
	if err != nil {
		writeEnvelopeError(w, err)
		return
	}
	defer stream.Close()

	entries := make([]json.RawMessage, 0)
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		entries = append(entries, json.RawMessage(line))
	}
	writeData(w, http.StatusOK, entries)
}

// handleSSE streams the job's event fan-out as text/event-stream,
// grounded on the teacher's internal/controller/api/events.go header and
// flusher handling, but subscribing to the real per-job registry instead
// of emitting a heartbeat stub.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.Events.Subscribe(jobID)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, payload)
			flusher.Flush()
		}
	}
}

type runRequest struct {
	Task   string         `json:"task,omitempty"`
	Action string         `json:"action,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, fmt.Errorf("decode run request: %w", err))
		return
	}
	if (req.Task == "") == (req.Action == "") {
		writeEnvelopeError(w, fmt.Errorf("exactly one of task or action is required"))
		return
	}

	job := &queue.Job{
		TaskName:   req.Task,
		ActionName: req.Action,
		Input:      req.Input,
		Queued:     time.Now().UTC(),
		Status:     queue.StatusQueued,
		SourceType: queue.SourceUser,
	}

	id, err := s.Queue.Enqueue(r.Context(), job)
	if err != nil {
		writeEnvelopeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"job_id": id})
}
