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

package errors

import "fmt"

// The platform's error taxonomy is not a type hierarchy but five sentinel
// kinds, matched with errors.Is at transport boundaries. Concrete errors
// wrap one of these with fmt.Errorf("...: %w", ...).
var (
	// ErrConfigInvalid covers declaration parse/merge failures, cyclic task
	// graphs, and references to actions that don't exist in the loaded
	// workspace. Reported at load time; the previous configuration is kept.
	ErrConfigInvalid = New("config invalid")

	// ErrTransportFailure covers HTTP, database, and object-storage network
	// or status errors. Non-fatal where retryable (a log batch POST),
	// fatal where authoritative (a job result POST).
	ErrTransportFailure = New("transport failure")

	// ErrExecutionFailure covers an action's child process exiting non-zero
	// or a template render failing.
	ErrExecutionFailure = New("execution failure")

	// ErrResourceContention covers file-lock acquisition failures and
	// storage constraint violations.
	ErrResourceContention = New("resource contention")

	// ErrAuthFailure covers failed worker/API authentication.
	ErrAuthFailure = New("auth failure")
)

// ConfigError reports a workspace declaration problem: the file(s)
// involved and what's wrong with them.
type ConfigError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config invalid at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("config invalid: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Is(target error) bool { return target == ErrConfigInvalid }

// TransportError reports a failed call to an external collaborator
// (database, object store, or a peer HTTP endpoint).
type TransportError struct {
	Target string
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure calling %s: %v", e.Target, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransportFailure }

// ExecutionError reports an action or render failure during a job run.
type ExecutionError struct {
	JobID string
	Step  string
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("execution failed for job %s step %s: %v", e.JobID, e.Step, e.Cause)
	}
	return fmt.Sprintf("execution failed for job %s: %v", e.JobID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailure }

// ContentionError reports a lock or storage-constraint conflict.
type ContentionError struct {
	Resource string
	Cause    error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("contention on %s: %v", e.Resource, e.Cause)
}

func (e *ContentionError) Unwrap() error { return e.Cause }

func (e *ContentionError) Is(target error) bool { return target == ErrResourceContention }

// AuthError reports a failed authentication check.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure: %s", e.Reason)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailure }
