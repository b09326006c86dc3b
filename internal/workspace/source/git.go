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

package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// defaultBranch is used when GitSource.Branch is unset.
const defaultBranch = "main"

// defaultPollInterval is used when GitSource.PollInterval is unset.
const defaultPollInterval = 60 * time.Second

// GitSource is a workspace tracked from a git remote. Its revision is
// the resolved commit id of the target branch. All git operations shell
// out to the system git binary.
type GitSource struct {
	Dir          string
	RemoteURL    string
	Branch       string
	PollInterval time.Duration

	mu       sync.Mutex
	revision string
	synced   bool
}

// NewGitSource returns a source that clones/tracks remoteURL's branch
// into dir.
func NewGitSource(dir, remoteURL, branch string) *GitSource {
	if branch == "" {
		branch = defaultBranch
	}
	return &GitSource{Dir: dir, RemoteURL: remoteURL, Branch: branch}
}

func (g *GitSource) branch() string {
	if g.Branch == "" {
		return defaultBranch
	}
	return g.Branch
}

func (g *GitSource) pollInterval() time.Duration {
	if g.PollInterval <= 0 {
		return defaultPollInterval
	}
	return g.PollInterval
}

// Sync clones the repository if absent, otherwise fetches and hard
// resets to the remote branch tip, then returns the resolved commit id.
func (g *GitSource) Sync(ctx context.Context) (string, error) {
	if _, err := os.Stat(g.Dir); os.IsNotExist(err) {
		if err := g.clone(ctx); err != nil {
			return "", err
		}
	} else {
		if err := g.fetchAndReset(ctx); err != nil {
			return "", err
		}
	}

	rev, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	rev = strings.TrimSpace(rev)

	g.mu.Lock()
	g.revision = rev
	g.synced = true
	g.mu.Unlock()

	return rev, nil
}

func (g *GitSource) clone(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", g.branch(), g.RemoteURL, g.Dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}
	return nil
}

func (g *GitSource) fetchAndReset(ctx context.Context) error {
	if _, err := g.run(ctx, "fetch", "origin", g.branch()); err != nil {
		return fmt.Errorf("git fetch: %w", err)
	}
	if _, err := g.run(ctx, "reset", "--hard", "origin/"+g.branch()); err != nil {
		return fmt.Errorf("git reset: %w", err)
	}
	if _, err := g.run(ctx, "checkout", g.branch()); err != nil {
		return fmt.Errorf("git checkout: %w", err)
	}
	return nil
}

func (g *GitSource) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, out)
	}
	return string(out), nil
}

// Revision returns the last commit id observed by Sync.
func (g *GitSource) Revision() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revision, g.synced
}

// Watch polls at PollInterval (default 60s), invoking onChange only
// when the resolved commit id changes from the last observed one.
func (g *GitSource) Watch(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(g.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before, _ := g.Revision()
			after, err := g.Sync(ctx)
			if err != nil {
				continue
			}
			if after != before {
				onChange()
			}
		}
	}
}
