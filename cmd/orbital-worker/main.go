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

// Command orbital-worker is the worker daemon: it polls a server for
// jobs and spawns orbital-runner child processes under bounded
// concurrency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/orbital/internal/lifecycle"
	"github.com/tombee/orbital/internal/log"
	"github.com/tombee/orbital/internal/serverconfig"
	"github.com/tombee/orbital/internal/worker"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML worker configuration")
		serverURL    = flag.String("server", "", "Base URL of the server's control plane")
		workerID     = flag.String("worker-id", "", "Id this worker identifies itself with")
		workspaceDir = flag.String("workspace-dir", "", "Local directory to sync the workspace bundle into")
		runnerBinary = flag.String("runner-binary", "", "Path to the orbital-runner binary")
		concurrency  = flag.Int("concurrency", 0, "Maximum number of runner processes in flight at once")
		token        = flag.String("token", "", "Bearer token for authenticated control-plane calls")
		pidFile      = flag.String("pidfile", "", "If set, write the worker's PID here for the lifetime of the process")
		startupWait  = flag.Duration("startup-wait", 30*time.Second, "How long to wait for the server to become reachable before polling")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("orbital-worker %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := serverconfig.LoadWorkerConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *workerID != "" {
		cfg.WorkerID = *workerID
	}
	if *workspaceDir != "" {
		cfg.WorkspaceDir = *workspaceDir
	}
	if *runnerBinary != "" {
		cfg.RunnerBinary = *runnerBinary
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *token != "" {
		cfg.Token = *token
	}

	if cfg.ServerURL == "" {
		logger.Error("missing required setting: server url")
		os.Exit(1)
	}
	if cfg.WorkerID == "" {
		logger.Error("missing required setting: worker id")
		os.Exit(1)
	}
	if cfg.RunnerBinary == "" {
		logger.Error("missing required setting: runner binary path")
		os.Exit(1)
	}

	if *pidFile != "" {
		pidMgr := lifecycle.NewPIDFileManager(*pidFile)
		if err := pidMgr.Create(os.Getpid()); err != nil {
			logger.Error("failed to write pidfile", slog.Any("error", err))
			os.Exit(1)
		}
		defer pidMgr.Remove()
	}

	healthChecker := lifecycle.NewHealthChecker(cfg.ServerURL + "/healthz")
	if err := healthChecker.WaitUntilHealthyWithCallback(*startupWait, func(result *lifecycle.HealthCheckResult, attempt int) {
		if !result.Success {
			logger.Warn("waiting for server", slog.Int("attempt", attempt), slog.Any("error", result.Error))
		}
	}); err != nil {
		logger.Error("server never became reachable", slog.Any("error", err))
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		ServerURL:    cfg.ServerURL,
		WorkerID:     cfg.WorkerID,
		WorkspaceDir: cfg.WorkspaceDir,
		RunnerBinary: cfg.RunnerBinary,
		Token:        cfg.Token,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("orbital-worker starting", slog.String("server", cfg.ServerURL), slog.String("worker_id", cfg.WorkerID))
	w.Run(ctx)
}
