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

// Package httpapi is the server's HTTP surface: a worker-facing control
// plane (job claim/dispatch, log ingestion, workspace tarball) and a
// UI-facing read plane (task/job listing, logs, SSE, enqueue), following
// the teacher's Go 1.22 http.ServeMux method+path routing style.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	orbitalerrors "github.com/tombee/orbital/pkg/errors"
)

// envelope is the read plane's uniform response shape.
type envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Pagination any    `json:"pagination,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writePaginated(w http.ResponseWriter, status int, data, pagination any) {
	writeJSON(w, status, envelope{Success: true, Data: data, Pagination: pagination})
}

func writeEnvelopeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), envelope{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the platform's sentinel error kinds (pkg/errors) to the
// HTTP status the read plane surfaces, per spec §7.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orbitalerrors.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, orbitalerrors.ErrConfigInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orbitalerrors.ErrExecutionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orbitalerrors.ErrResourceContention):
		return http.StatusConflict
	case errors.Is(err, orbitalerrors.ErrTransportFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var errNotFound = errors.New("not found")
