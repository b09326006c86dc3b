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

package runnerproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tombee/orbital/internal/logcollector"
	"github.com/tombee/orbital/internal/render"
	"github.com/tombee/orbital/internal/workspace"
)

type fakeSink struct {
	mu      sync.Mutex
	step    string
	entries []logcollector.Entry
	starts  []string
	results []bool
}

func (f *fakeSink) Log(entry logcollector.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeSink) SetStepName(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = step
}

func (f *fakeSink) MarkStart(ctx context.Context, ts time.Time, input map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, f.step)
	return nil
}

func (f *fakeSink) StoreResult(ctx context.Context, success bool, output map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, success)
	return nil
}

func (f *fakeSink) Flush(ctx context.Context) error { return nil }

func newConfiguration(actions map[string]workspace.Action, tasks map[string]workspace.Task) *workspace.Configuration {
	return &workspace.Configuration{
		Actions: actions,
		Tasks:   tasks,
	}
}

func TestRunTask_LinearChainThreadsOutput(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"first":  {Name: "first", Type: "shell", Command: `echo 'OUTPUT:{"value": "a"}'`},
			"second": {Name: "second", Type: "shell", Command: `echo "OUTPUT:{\"value\": \"{{ input.value }}-b\"}"`},
		},
		map[string]workspace.Task{
			"chain": {
				Name: "chain",
				Flow: map[string]workspace.FlowStep{
					"first": {Action: "first"},
					"second": {
						Action:    "second",
						DependsOn: []string{"first"},
						Input:     map[string]string{"value": "{{ first.output.value }}"},
					},
				},
			},
		},
	)

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-1",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunTask(context.Background(), "chain", nil)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if result.Output["value"] != "a-b" {
		t.Fatalf("output = %v, want value=a-b", result.Output)
	}
	if len(sink.starts) != 2 || len(sink.results) != 2 {
		t.Fatalf("expected 2 starts/results, got %d/%d", len(sink.starts), len(sink.results))
	}
}

func TestRunTask_ContinueOnFailLetsJobSucceed(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"fails": {Name: "fails", Type: "shell", Command: "exit 1"},
			"after":  {Name: "after", Type: "shell", Command: `echo 'OUTPUT:{"ok": true}'`},
		},
		map[string]workspace.Task{
			"flow": {
				Name: "flow",
				Flow: map[string]workspace.FlowStep{
					"fails": {Action: "fails", ContinueOnFail: true},
					"after": {Action: "after", DependsOn: []string{"fails"}},
				},
			},
		},
	)

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-2",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunTask(context.Background(), "flow", nil)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected job to still complete despite step failure")
	}
}

func TestRunTask_HaltsWithoutContinueOnFail(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"fails": {Name: "fails", Type: "shell", Command: "exit 1"},
			"after":  {Name: "after", Type: "shell", Command: `echo 'OUTPUT:{"ok": true}'`},
		},
		map[string]workspace.Task{
			"flow": {
				Name: "flow",
				Flow: map[string]workspace.FlowStep{
					"fails": {Action: "fails"},
					"after": {Action: "after", DependsOn: []string{"fails"}},
				},
			},
		},
	)

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-3",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunTask(context.Background(), "flow", nil)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.Success {
		t.Fatalf("expected job to fail")
	}
	if len(sink.starts) != 1 {
		t.Fatalf("expected only the failing step to have started, got %d", len(sink.starts))
	}
}

func TestRunTask_InvokesStepOnErrorHandler(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"fails":   {Name: "fails", Type: "shell", Command: "exit 1"},
			"cleanup": {Name: "cleanup", Type: "shell", Command: `echo 'OUTPUT:{"handled": true}'`},
		},
		map[string]workspace.Task{
			"flow": {
				Name: "flow",
				Flow: map[string]workspace.FlowStep{
					"fails": {Action: "fails", OnError: "cleanup"},
				},
			},
		},
	)

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-4",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunTask(context.Background(), "flow", nil)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.Success {
		t.Fatalf("expected job to fail despite error handler running")
	}
}

func TestRunTask_InvokesGlobalErrorHandlerWhenStepHasNone(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"fails":   {Name: "fails", Type: "shell", Command: "exit 1"},
			"cleanup": {Name: "cleanup", Type: "shell", Command: `echo 'OUTPUT:{"handled": true}'`},
		},
		map[string]workspace.Task{
			"flow": {
				Name: "flow",
				Flow: map[string]workspace.FlowStep{
					"fails": {Action: "fails"},
				},
			},
		},
	)
	cfg.Globals.ErrorHandler = "cleanup"

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-5",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunTask(context.Background(), "flow", nil)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.Success {
		t.Fatalf("expected job to fail")
	}
}

func TestRunAction_DirectExecution(t *testing.T) {
	cfg := newConfiguration(
		map[string]workspace.Action{
			"greet": {Name: "greet", Type: "shell", Command: `echo "OUTPUT:{\"greeting\": \"hi {{ input.name }}\"}"`},
		},
		nil,
	)

	sink := &fakeSink{}
	r := New(Config{
		JobID:         "job-6",
		Configuration: cfg,
		Sink:          sink,
		Renderer:      render.New(),
	})

	result, err := r.RunAction(context.Background(), "greet", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if result.Output["greeting"] != "hi world" {
		t.Fatalf("output = %v, want greeting=hi world", result.Output)
	}
}

func TestRunAction_UnknownActionIsConfigError(t *testing.T) {
	cfg := newConfiguration(map[string]workspace.Action{}, nil)
	sink := &fakeSink{}
	r := New(Config{JobID: "job-7", Configuration: cfg, Sink: sink, Renderer: render.New()})

	if _, err := r.RunAction(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
