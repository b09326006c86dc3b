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

// Command orbital-runner is the per-job child process spawned by
// internal/worker: it walks one task's DAG (or runs one action directly),
// streaming logs and results back to the server over HTTP via
// internal/logcollector.ServerSink.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/orbital/internal/log"
	"github.com/tombee/orbital/internal/logcollector"
	"github.com/tombee/orbital/internal/render"
	"github.com/tombee/orbital/internal/runnerproc"
	"github.com/tombee/orbital/internal/workspace"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serverURL    string
		jobID        string
		workerID     string
		token        string
		workspaceDir string
		task         string
		action       string
		inputJSON    string
	)

	cmd := &cobra.Command{
		Use:   "orbital-runner",
		Short: "Run one job's task DAG or action to completion",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (task == "") == (action == "") {
				return fmt.Errorf("exactly one of --task or --action is required")
			}

			var input map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}

			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := workspace.Load(workspaceDir)
			if err != nil {
				return fmt.Errorf("load workspace: %w", err)
			}

			client := &http.Client{Timeout: 60 * time.Second}
			if token != "" {
				client.Transport = &bearerTokenTransport{token: token, base: http.DefaultTransport}
			}
			sink := logcollector.NewServerSink(client, serverURL, jobID, workerID)

			runner := runnerproc.New(runnerproc.Config{
				JobID:         jobID,
				WorkspaceRoot: workspaceDir,
				Configuration: cfg,
				Sink:          sink,
				Renderer:      render.New(),
			})

			ctx := context.Background()
			var result runnerproc.Result
			if task != "" {
				// RunTask reports start/result per step only; unlike
				// RunAction it has no single job-scoped action to post
				// job-level start/result against, so this CLI brackets
				// the whole DAG walk with the job-level markers itself.
				started := time.Now().UTC()
				sink.SetStepName("")
				if startErr := sink.MarkStart(ctx, started, input); startErr != nil {
					logger.Warn("job start post failed", slog.Any("error", startErr))
				}
				result, err = runner.RunTask(ctx, task, input)
				sink.SetStepName("")
				if resultErr := sink.StoreResult(ctx, result.Success, result.Output); resultErr != nil {
					logger.Warn("job result post failed", slog.Any("error", resultErr))
				}
			} else {
				result, err = runner.RunAction(ctx, action, input)
			}

			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if flushErr := sink.Flush(flushCtx); flushErr != nil {
				logger.Warn("log flush failed", slog.Any("error", flushErr))
			}

			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("job %s did not complete successfully", jobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of the server's control plane")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Id of the job being run")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "Id of the worker that claimed the job")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for authenticated control-plane calls")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Path to the synced workspace directory")
	cmd.Flags().StringVar(&task, "task", "", "Name of the task to run (mutually exclusive with --action)")
	cmd.Flags().StringVar(&action, "action", "", "Name of the action to run directly (mutually exclusive with --task)")
	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON-encoded job input")

	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("job-id")
	cmd.MarkFlagRequired("worker-id")

	return cmd
}

// bearerTokenTransport attaches --token to every control-plane request,
// for deployments that front the worker-facing routes with an auth proxy
// despite the core contract treating them as trusted-network.
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
