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

// Package runnerproc walks one task's DAG (or executes one ad-hoc action)
// against a local workspace copy, threading step outputs into downstream
// step inputs and routing logs through a sink. It is the engine behind
// cmd/orbital-runner.
package runnerproc

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/orbital/internal/action"
	"github.com/tombee/orbital/internal/action/shell"
	"github.com/tombee/orbital/internal/dag"
	"github.com/tombee/orbital/internal/logcollector"
	"github.com/tombee/orbital/internal/render"
	"github.com/tombee/orbital/internal/workspace"
	orbitalerrors "github.com/tombee/orbital/pkg/errors"
)

// Config wires one Runner to its job's workspace, configuration, and log
// destination.
type Config struct {
	JobID         string
	WorkspaceRoot string
	Configuration *workspace.Configuration
	Sink          logcollector.Sink
	Renderer      *render.Renderer
}

// Result is the terminal outcome of a task or action run.
type Result struct {
	Success bool
	Output  map[string]any
}

// Runner executes exactly one job: either a task (DAG walk) or a single
// ad-hoc action.
type Runner struct {
	cfg Config
}

// New returns a Runner wired to cfg.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// RunAction executes one action directly, with no DAG involved.
func (r *Runner) RunAction(ctx context.Context, actionName string, input map[string]any) (Result, error) {
	decl, ok := r.cfg.Configuration.Actions[actionName]
	if !ok {
		return Result{}, &orbitalerrors.ConfigError{Reason: fmt.Sprintf("action %q not found", actionName)}
	}

	act, err := r.newAction(decl)
	if err != nil {
		return Result{}, err
	}

	r.cfg.Sink.SetStepName("")
	now := time.Now().UTC()
	if err := r.cfg.Sink.MarkStart(ctx, now, input); err != nil {
		return Result{}, &orbitalerrors.TransportError{Target: "control plane", Cause: err}
	}

	output, execErr := act.Execute(ctx, input)
	success := execErr == nil

	if err := r.cfg.Sink.StoreResult(ctx, success, output); err != nil {
		return Result{}, &orbitalerrors.TransportError{Target: "control plane", Cause: err}
	}

	return Result{Success: success, Output: output}, nil
}

// RunTask instantiates a DAG walker over task's flow and executes each
// step in dependency order, per spec §4.5.
func (r *Runner) RunTask(ctx context.Context, taskName string, input map[string]any) (Result, error) {
	task, ok := r.cfg.Configuration.Tasks[taskName]
	if !ok {
		return Result{}, &orbitalerrors.ConfigError{Reason: fmt.Sprintf("task %q not found", taskName)}
	}

	edges := make([]dag.Edge, 0, len(task.Flow))
	for name, step := range task.Flow {
		edges = append(edges, dag.Edge{Step: name, DependsOn: step.DependsOn})
	}
	walker, err := dag.NewWalker(edges)
	if err != nil {
		return Result{}, &orbitalerrors.ConfigError{Reason: err.Error(), Cause: err}
	}

	renderCtx := map[string]any{
		"secrets": r.cfg.Configuration.Globals.Secrets,
	}
	if input != nil {
		renderCtx["input"] = input
	}

	jobSuccess := true
	var lastOutput map[string]any

	completed := ""
	for {
		stepName, ok := walker.Next(completed)
		if !ok {
			break
		}

		output, stepErr := r.runStep(ctx, taskName, stepName, task.Flow[stepName], renderCtx)
		completed = stepName

		if stepErr != nil {
			r.invokeErrorHandler(ctx, stepName, task.Flow[stepName].OnError, stepErr)
			if !task.Flow[stepName].ContinueOnFail {
				jobSuccess = false
				break
			}
			continue
		}

		lastOutput = output
		if len(output) > 0 {
			renderCtx[stepName] = map[string]any{"output": output}
		}
	}

	return Result{Success: jobSuccess, Output: lastOutput}, nil
}

// runStep renders step's input against renderCtx, executes its action, and
// reports start/result through the sink. It returns the action's output and
// a non-nil error if rendering or execution failed.
func (r *Runner) runStep(ctx context.Context, taskName, stepName string, step workspace.FlowStep, renderCtx map[string]any) (map[string]any, error) {
	decl, ok := r.cfg.Configuration.Actions[step.Action]
	if !ok {
		return nil, &orbitalerrors.ConfigError{Reason: fmt.Sprintf("task %q step %q references unknown action %q", taskName, stepName, step.Action)}
	}

	rawInput := make(map[string]any, len(step.Input))
	for k, v := range step.Input {
		rawInput[k] = v
	}
	rendered, err := r.cfg.Renderer.Render(ctx, rawInput, renderCtx)
	if err != nil {
		return nil, &orbitalerrors.ExecutionError{JobID: r.cfg.JobID, Step: stepName, Cause: err}
	}
	stepInput, _ := rendered.(map[string]any)

	act, err := r.newAction(decl)
	if err != nil {
		return nil, err
	}

	r.cfg.Sink.SetStepName(stepName)
	now := time.Now().UTC()
	if err := r.cfg.Sink.MarkStart(ctx, now, stepInput); err != nil {
		return nil, &orbitalerrors.TransportError{Target: "control plane", Cause: err}
	}

	output, execErr := act.Execute(ctx, stepInput)
	success := execErr == nil

	if err := r.cfg.Sink.StoreResult(ctx, success, output); err != nil {
		return output, &orbitalerrors.TransportError{Target: "control plane", Cause: err}
	}

	if !success {
		return output, &orbitalerrors.ExecutionError{JobID: r.cfg.JobID, Step: stepName, Cause: execErr}
	}
	return output, nil
}

// invokeErrorHandler runs stepHandler if set, else the workspace's global
// error_handler, with a payload carrying the job and step identity. A
// missing or unresolvable handler is not itself a fatal condition: the
// step's own failure already determines whether the job halts.
func (r *Runner) invokeErrorHandler(ctx context.Context, stepName, stepHandler string, cause error) {
	handlerName := stepHandler
	if handlerName == "" {
		handlerName = r.cfg.Configuration.Globals.ErrorHandler
	}
	if handlerName == "" {
		return
	}

	decl, ok := r.cfg.Configuration.Actions[handlerName]
	if !ok {
		return
	}
	act, err := r.newAction(decl)
	if err != nil {
		return
	}

	payload := map[string]any{
		"job_id":    r.cfg.JobID,
		"step_name": stepName,
		"error":     cause.Error(),
	}
	_, _ = act.Execute(ctx, payload)
}

// newAction constructs the Action implementation for decl. shell is the
// only type the core implements; an unrecognized type is a config error.
func (r *Runner) newAction(decl workspace.Action) (action.Action, error) {
	switch decl.Type {
	case "", "shell":
		return shell.New(shell.Config{
			WorkspaceRoot: r.cfg.WorkspaceRoot,
			Command:       decl.Command,
			Sink:          r.cfg.Sink,
			Renderer:      r.cfg.Renderer,
		}), nil
	default:
		return nil, &orbitalerrors.ConfigError{Reason: fmt.Sprintf("unsupported action type %q for action %q", decl.Type, decl.Name)}
	}
}
