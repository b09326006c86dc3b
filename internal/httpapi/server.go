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
	"net/http"

	"github.com/tombee/orbital/internal/events"
	"github.com/tombee/orbital/internal/logarchive"
	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/workspace"
	orbitalerrors "github.com/tombee/orbital/pkg/errors"
)

// Server wires the control and read planes to the server's collaborators.
// It holds no state of its own beyond these references.
type Server struct {
	Queue     queue.Store
	Archive   logarchive.Archive
	Events    *events.Registry
	Workspace *workspace.Manager

	// WorkspaceRoot is the filesystem root tarballed by GET
	// /files/workspace.tar.gz.
	WorkspaceRoot string

	// ReadToken, if set, is the bearer token required on read-plane
	// requests. Empty disables auth, matching the spec's note that
	// worker-facing endpoints are treated as trusted-network and that
	// authN is otherwise left to the external collaborator.
	ReadToken string
}

// Routes returns the complete HTTP handler: control plane + read plane.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /jobs", s.handleEnqueue)
	mux.HandleFunc("GET /jobs/next", s.handleClaimNext)
	mux.HandleFunc("POST /jobs/{job_id}/start", s.handleJobStart)
	mux.HandleFunc("POST /jobs/{job_id}/results", s.handleJobResults)
	mux.HandleFunc("POST /jobs/{job_id}/logs", s.handleJobLogs)
	mux.HandleFunc("POST /jobs/{job_id}/steps/{step}/start", s.handleStepStart)
	mux.HandleFunc("POST /jobs/{job_id}/steps/{step}/results", s.handleStepResults)
	mux.HandleFunc("POST /jobs/{job_id}/steps/{step}/logs", s.handleStepLogs)
	mux.HandleFunc("HEAD /files/workspace.tar.gz", s.handleWorkspaceHead)
	mux.HandleFunc("GET /files/workspace.tar.gz", s.handleWorkspaceGet)

	mux.Handle("GET /api/tasks", s.auth(http.HandlerFunc(s.handleListTasks)))
	mux.Handle("GET /api/tasks/{name}", s.auth(http.HandlerFunc(s.handleGetTask)))
	mux.Handle("GET /api/jobs", s.auth(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /api/jobs/{job_id}", s.auth(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("GET /api/jobs/{job_id}/logs", s.auth(http.HandlerFunc(s.handleReadJobLogs)))
	mux.Handle("GET /api/jobs/{job_id}/steps/{step}/logs", s.auth(http.HandlerFunc(s.handleReadStepLogs)))
	mux.Handle("GET /api/jobs/{job_id}/sse", s.auth(http.HandlerFunc(s.handleSSE)))
	mux.Handle("POST /api/run", s.auth(http.HandlerFunc(s.handleRun)))

	return mux
}

// auth enforces the bearer token on read-plane routes when ReadToken is
// configured, grounded on the teacher's Authorization-header parsing in
// internal/controller/api/start_handler.go.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ReadToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || header[len(prefix):] != s.ReadToken {
			writeEnvelopeError(w, &orbitalerrors.AuthError{Reason: "invalid or missing bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
