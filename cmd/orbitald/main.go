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

// Command orbitald is the server daemon: it serves the HTTP control and
// read planes, drives the cron scheduler, and watches the workspace
// source for reloads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/orbital/internal/events"
	"github.com/tombee/orbital/internal/httpapi"
	"github.com/tombee/orbital/internal/lifecycle"
	"github.com/tombee/orbital/internal/log"
	"github.com/tombee/orbital/internal/logarchive"
	"github.com/tombee/orbital/internal/queue"
	"github.com/tombee/orbital/internal/queue/memory"
	"github.com/tombee/orbital/internal/queue/postgres"
	"github.com/tombee/orbital/internal/queue/sqlite"
	"github.com/tombee/orbital/internal/scheduler"
	"github.com/tombee/orbital/internal/serverconfig"
	"github.com/tombee/orbital/internal/workspace"
	"github.com/tombee/orbital/internal/workspace/source"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML server configuration")
		listenAddr  = flag.String("listen", "", "Address to bind the HTTP server to")
		readToken   = flag.String("read-token", "", "Bearer token required on read-plane requests")
		workspaceDir = flag.String("workspace-dir", "", "Root of the workspace declaration bundle")
		pidFile     = flag.String("pidfile", "", "If set, write the daemon's PID here for the lifetime of the process")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("orbitald %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := serverconfig.LoadServerConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *readToken != "" {
		cfg.ReadToken = *readToken
	}
	if *workspaceDir != "" {
		cfg.Workspace.Folder.Root = *workspaceDir
		cfg.Workspace.Git.Dir = *workspaceDir
	}

	if *pidFile != "" {
		pidMgr := lifecycle.NewPIDFileManager(*pidFile)
		if err := pidMgr.Create(os.Getpid()); err != nil {
			logger.Error("failed to write pidfile", slog.Any("error", err))
			os.Exit(1)
		}
		defer pidMgr.Remove()
	}

	store, err := buildQueue(cfg.Queue)
	if err != nil {
		logger.Error("failed to build queue backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	archive, err := buildArchive(cfg.Archive)
	if err != nil {
		logger.Error("failed to build log archive", slog.Any("error", err))
		os.Exit(1)
	}

	workspaceRoot, src := buildWorkspaceSource(cfg.Workspace)
	mgr, err := workspace.NewManagerWithSource(workspaceRoot, src)
	if err != nil {
		logger.Error("failed to load workspace", slog.Any("error", err))
		os.Exit(1)
	}

	sched, err := scheduler.New(store, toSchedulerTriggers(mgr.Triggers()))
	if err != nil {
		logger.Error("failed to build scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	mgr.StartWatching(ctx, func(revision string) {
		logger.Info("workspace reloaded", slog.String("revision", revision))
		sched.Reload(toSchedulerTriggers(mgr.Triggers()))
	})

	server := &httpapi.Server{
		Queue:         store,
		Archive:       archive,
		Events:        events.NewRegistry(),
		Workspace:     mgr,
		WorkspaceRoot: workspaceRoot,
		ReadToken:     cfg.ReadToken,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orbitald listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// buildWorkspaceSource picks a folder- or git-backed workspace source
// from cfg, returning the local directory Manager should load from.
func buildWorkspaceSource(cfg serverconfig.WorkspaceConfig) (string, source.Source) {
	if cfg.Source == "git" {
		dir := cfg.Git.Dir
		if dir == "" {
			dir = "./data/workspace"
		}
		return dir, source.NewGitSource(dir, cfg.Git.RemoteURL, cfg.Git.Branch)
	}
	root := cfg.Folder.Root
	if root == "" {
		root = "."
	}
	return root, source.NewFolderSource(root)
}

func toSchedulerTriggers(triggers []workspace.Trigger) []scheduler.Trigger {
	out := make([]scheduler.Trigger, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, scheduler.Trigger{
			Name:     t.Name,
			Cron:     t.Cron,
			TaskName: t.Task,
			Input:    t.Input,
			Enabled:  t.Enabled,
		})
	}
	return out
}

func buildQueue(cfg serverconfig.QueueConfig) (queue.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
	case "postgres":
		return postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  cfg.Postgres.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Type)
	}
}

func buildArchive(cfg serverconfig.ArchiveConfig) (logarchive.Archive, error) {
	var backing logarchive.BackingStore
	var err error
	switch cfg.Backing {
	case "", "local":
		dir := cfg.Local.Dir
		if dir == "" {
			dir = cfg.CacheDir
		}
		backing, err = logarchive.NewLocalBackingStore(dir)
	case "s3":
		backing, err = logarchive.NewS3BackingStore(context.Background(), logarchive.S3Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown archive backing %q", cfg.Backing)
	}
	if err != nil {
		return nil, err
	}
	return logarchive.New(cfg.CacheDir, backing)
}
