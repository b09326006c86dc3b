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

// Package serverconfig is the YAML configuration surface for orbitald and
// orbital-worker, grounded on the teacher's internal/config YAML-tagged
// struct style (gopkg.in/yaml.v3) but scoped to this system's own backend
// choices instead of the teacher's provider/agent-mapping domain.
package serverconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig selects and configures the durable job queue backend.
type QueueConfig struct {
	// Type is one of "memory", "sqlite", "postgres".
	Type string `yaml:"type"`

	SQLite struct {
		Path string `yaml:"path"`
		WAL  bool   `yaml:"wal"`
	} `yaml:"sqlite,omitempty"`

	Postgres struct {
		ConnectionString string        `yaml:"connection_string"`
		MaxOpenConns     int           `yaml:"max_open_conns,omitempty"`
		MaxIdleConns     int           `yaml:"max_idle_conns,omitempty"`
		ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime,omitempty"`
	} `yaml:"postgres,omitempty"`
}

// ArchiveConfig selects and configures the log archive's backing store.
type ArchiveConfig struct {
	// CacheDir is the local cache directory shared by every backing
	// store kind.
	CacheDir string `yaml:"cache_dir"`

	// Backing is one of "local", "s3".
	Backing string `yaml:"backing"`

	Local struct {
		Dir string `yaml:"dir"`
	} `yaml:"local,omitempty"`

	S3 struct {
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix,omitempty"`
		Region   string `yaml:"region,omitempty"`
		Endpoint string `yaml:"endpoint,omitempty"`
	} `yaml:"s3,omitempty"`
}

// WorkspaceConfig selects and configures the workspace declaration source.
type WorkspaceConfig struct {
	// Source is one of "folder", "git".
	Source string `yaml:"source"`

	Folder struct {
		Root string `yaml:"root"`
	} `yaml:"folder,omitempty"`

	Git struct {
		RemoteURL string        `yaml:"remote_url"`
		Branch    string        `yaml:"branch"`
		Dir       string        `yaml:"dir"`
		Interval  time.Duration `yaml:"interval,omitempty"`
	} `yaml:"git,omitempty"`
}

// ServerConfig is the top-level configuration for cmd/orbitald.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	ReadToken  string `yaml:"read_token,omitempty"`

	Queue     QueueConfig     `yaml:"queue"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Workspace WorkspaceConfig `yaml:"workspace"`

	Log struct {
		Level  string `yaml:"level,omitempty"`
		Format string `yaml:"format,omitempty"`
	} `yaml:"log,omitempty"`
}

// WorkerConfig is the top-level configuration for cmd/orbital-worker.
type WorkerConfig struct {
	ServerURL      string `yaml:"server_url"`
	WorkerID       string `yaml:"worker_id"`
	WorkspaceDir   string `yaml:"workspace_dir"`
	RunnerBinary   string `yaml:"runner_binary"`
	Concurrency    int    `yaml:"concurrency,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	Token          string `yaml:"token,omitempty"`

	Log struct {
		Level  string `yaml:"level,omitempty"`
		Format string `yaml:"format,omitempty"`
	} `yaml:"log,omitempty"`
}

// DefaultServerConfig returns a ServerConfig with a single-node,
// dependency-free baseline: in-memory queue, local-folder log archive,
// folder workspace source.
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{ListenAddr: ":8080"}
	cfg.Queue.Type = "memory"
	cfg.Archive.Backing = "local"
	cfg.Archive.CacheDir = "./data/log-cache"
	cfg.Archive.Local.Dir = "./data/log-archive"
	cfg.Workspace.Source = "folder"
	cfg.Workspace.Folder.Root = "."
	return cfg
}

// DefaultWorkerConfig returns a WorkerConfig with spec §5's default bounded
// concurrency.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency:  5,
		PollInterval: time.Second,
		WorkspaceDir: "./data/workspace",
	}
}

// LoadServerConfig reads and parses a YAML server configuration file,
// starting from DefaultServerConfig so an omitted section keeps its
// zero-dependency default.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}
	return cfg, nil
}

// LoadWorkerConfig reads and parses a YAML worker configuration file.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse worker config: %w", err)
	}
	return cfg, nil
}
