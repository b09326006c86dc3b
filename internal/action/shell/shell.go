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

// Package shell implements action.Action by spawning a shell and streaming
// its output line by line to a log sink.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	orbitalerrors "github.com/tombee/orbital/pkg/errors"
	"github.com/tombee/orbital/internal/logcollector"
	"github.com/tombee/orbital/internal/render"
)

// outputPrefix marks a stdout line as carrying the action's structured
// output rather than ordinary log chatter. Preserved bit-exactly: this is
// the out-of-band channel the shell action uses instead of a second pipe.
const outputPrefix = "OUTPUT:"

// Config configures one Action invocation.
type Config struct {
	// WorkspaceRoot is the working directory the shell runs in.
	WorkspaceRoot string

	// Command is the action's unrendered command template.
	Command string

	// Sink receives every output line as it's produced.
	Sink logcollector.Sink

	// Renderer renders Command against {"input": <step input>} before
	// execution. If nil, Command is used verbatim.
	Renderer *render.Renderer
}

// Action runs Config.Command through sh, streaming stdout/stderr to Sink.
type Action struct {
	cfg Config
}

// New returns an Action for the given configuration.
func New(cfg Config) *Action {
	return &Action{cfg: cfg}
}

// Execute renders the command, spawns sh with it piped on stdin, and
// streams output concurrently. The returned output is the JSON object
// parsed from the job's OUTPUT: lines, or {"output": <raw text>} when they
// do not parse as one; err is non-nil when the command could not be
// rendered, the process could not be run, or it exited non-zero.
func (a *Action) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	command := a.cfg.Command
	if a.cfg.Renderer != nil {
		rendered, err := a.cfg.Renderer.Render(ctx, command, map[string]any{"input": input})
		if err != nil {
			return nil, &orbitalerrors.ExecutionError{Cause: fmt.Errorf("render command: %w", err)}
		}
		s, ok := rendered.(string)
		if !ok {
			return nil, &orbitalerrors.ExecutionError{Cause: fmt.Errorf("rendered command is not a string: %T", rendered)}
		}
		command = s
	}

	cmd := exec.CommandContext(ctx, "sh")
	cmd.Dir = a.cfg.WorkspaceRoot
	cmd.Stdin = strings.NewReader(command)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &orbitalerrors.ExecutionError{Cause: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &orbitalerrors.ExecutionError{Cause: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &orbitalerrors.ExecutionError{Cause: fmt.Errorf("start: %w", err)}
	}

	var (
		mu        sync.Mutex
		captured  []string
		wg        sync.WaitGroup
	)

	stream := func(r io.Reader, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := ansi.Strip(scanner.Text())
			entry := logcollector.Entry{
				Timestamp: time.Now().UTC(),
				IsStderr:  isStderr,
				Message:   line,
			}
			if a.cfg.Sink != nil {
				a.cfg.Sink.Log(entry)
			}
			if !isStderr && strings.HasPrefix(line, outputPrefix) {
				mu.Lock()
				captured = append(captured, strings.TrimPrefix(line, outputPrefix))
				mu.Unlock()
			}
		}
	}

	wg.Add(2)
	go stream(stdoutPipe, false)
	go stream(stderrPipe, true)
	wg.Wait()

	waitErr := cmd.Wait()

	if len(captured) == 0 {
		if waitErr != nil {
			return nil, &orbitalerrors.ExecutionError{Cause: waitErr}
		}
		return nil, nil
	}

	raw := strings.Join(captured, "\n")
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = map[string]any{"output": raw}
	}

	if waitErr != nil {
		return parsed, &orbitalerrors.ExecutionError{Cause: waitErr}
	}
	return parsed, nil
}
