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

package errors_test

import (
	"errors"
	"strings"
	"testing"

	orbitalerrors "github.com/tombee/orbital/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := orbitalerrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}

		msg := wrapped.Error()
		if !strings.Contains(msg, "additional context") {
			t.Errorf("wrapped error should contain context, got: %s", msg)
		}
		if !strings.Contains(msg, "original error") {
			t.Errorf("wrapped error should contain original message, got: %s", msg)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		wrapped := orbitalerrors.Wrap(nil, "context")
		if wrapped != nil {
			t.Errorf("Wrap(nil, _) should return nil, got: %v", wrapped)
		}
	})

	t.Run("preserves error chain", func(t *testing.T) {
		original := errors.New("root cause")
		wrapped := orbitalerrors.Wrap(original, "context")

		if !errors.Is(wrapped, original) {
			t.Error("wrapped error should match original with errors.Is")
		}

		unwrapped := errors.Unwrap(wrapped)
		if unwrapped != original {
			t.Errorf("Unwrap should return original error, got: %v", unwrapped)
		}
	})
}

func TestWrapf(t *testing.T) {
	t.Run("wraps error with formatted context", func(t *testing.T) {
		original := errors.New("file not found")
		wrapped := orbitalerrors.Wrapf(original, "loading file %s", "/path/to/file")

		msg := wrapped.Error()
		if !strings.Contains(msg, "loading file /path/to/file") {
			t.Errorf("wrapped error should contain formatted context, got: %s", msg)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		wrapped := orbitalerrors.Wrapf(nil, "loading file %s", "/path/to/file")
		if wrapped != nil {
			t.Errorf("Wrapf(nil, _, _) should return nil, got: %v", wrapped)
		}
	})

	t.Run("handles multiple format arguments", func(t *testing.T) {
		original := errors.New("connection failed")
		wrapped := orbitalerrors.Wrapf(original, "connecting to %s:%d", "localhost", 8080)

		msg := wrapped.Error()
		if !strings.Contains(msg, "connecting to localhost:8080") {
			t.Errorf("wrapped error should contain formatted context, got: %s", msg)
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("finds sentinel kind through a wrapping error", func(t *testing.T) {
		target := &orbitalerrors.ContentionError{Resource: "workspace lock", Cause: errors.New("timeout")}
		wrapped := orbitalerrors.Wrap(target, "unpack failed")

		if !orbitalerrors.Is(wrapped, orbitalerrors.ErrResourceContention) {
			t.Error("Is should find ErrResourceContention through the wrap")
		}
	})

	t.Run("returns false for unrelated sentinel", func(t *testing.T) {
		err := &orbitalerrors.AuthError{Reason: "bad token"}
		if orbitalerrors.Is(err, orbitalerrors.ErrConfigInvalid) {
			t.Error("Is should return false for an unrelated sentinel kind")
		}
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		if orbitalerrors.Is(nil, orbitalerrors.ErrAuthFailure) {
			t.Error("Is should return false for nil error")
		}
	})
}

func TestAs(t *testing.T) {
	t.Run("extracts typed error from chain", func(t *testing.T) {
		original := &orbitalerrors.ExecutionError{JobID: "job-1", Step: "build", Cause: errors.New("exit 1")}
		wrapped := orbitalerrors.Wrap(original, "step failed")

		var target *orbitalerrors.ExecutionError
		if !orbitalerrors.As(wrapped, &target) {
			t.Fatal("As should extract ExecutionError from chain")
		}
		if target.Step != "build" {
			t.Errorf("extracted error Step = %q, want %q", target.Step, "build")
		}
	})

	t.Run("returns false for different error type", func(t *testing.T) {
		err := &orbitalerrors.AuthError{Reason: "test"}

		var target *orbitalerrors.ConfigError
		if orbitalerrors.As(err, &target) {
			t.Error("As should return false when error type doesn't match")
		}
	})
}

func TestUnwrap(t *testing.T) {
	t.Run("unwraps single level", func(t *testing.T) {
		original := errors.New("original")
		wrapped := orbitalerrors.Wrap(original, "wrapper")

		unwrapped := orbitalerrors.Unwrap(wrapped)
		if unwrapped != original {
			t.Errorf("Unwrap should return original error, got: %v", unwrapped)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		unwrapped := orbitalerrors.Unwrap(nil)
		if unwrapped != nil {
			t.Errorf("Unwrap(nil) should return nil, got: %v", unwrapped)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("creates new error", func(t *testing.T) {
		err := orbitalerrors.New("test error")
		if err.Error() != "test error" {
			t.Errorf("error message = %q, want %q", err.Error(), "test error")
		}
	})

	t.Run("creates unique error instances", func(t *testing.T) {
		err1 := orbitalerrors.New("test")
		err2 := orbitalerrors.New("test")

		if err1 == err2 {
			t.Error("New should create unique error instances")
		}
	})
}
