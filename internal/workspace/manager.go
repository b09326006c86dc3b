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

package workspace

import (
	"context"
	"sync"

	"github.com/tombee/orbital/internal/workspace/source"
)

// Manager holds the server's current Configuration behind a read-write
// lock, replacing it atomically on Reload and notifying watchers so they
// observe a consistent snapshot rather than racing the loader.
type Manager struct {
	root string
	src  source.Source

	mu       sync.RWMutex
	cfg      *Configuration
	revision string

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// NewManager loads root's configuration once and returns a Manager
// serving it, backed by a FolderSource for revision/reload purposes.
func NewManager(root string) (*Manager, error) {
	return NewManagerWithSource(root, source.NewFolderSource(root))
}

// NewManagerWithSource is like NewManager but takes an explicit Source,
// so a git-backed workspace (source.GitSource) can be wired in by the
// daemon instead of the folder default.
func NewManagerWithSource(root string, src source.Source) (*Manager, error) {
	cfg, err := Load(root)
	if err != nil {
		return nil, err
	}
	m := &Manager{root: root, src: src, cfg: cfg}
	if rev, err := src.Sync(context.Background()); err == nil {
		m.revision = rev
	}
	return m, nil
}

// StartWatching runs the source's Watch loop in a background goroutine,
// calling Reload on every reported change, until ctx is cancelled. This
// is the push-based alternative to polling Reload on a timer, and is how
// spec §9's "broadcast watch channel" design note is realised for the
// workspace's own upstream source. onReload, if non-nil, runs after each
// successful reload with the new revision, so callers (e.g. the cron
// scheduler) can react to a changed trigger set without polling either.
func (m *Manager) StartWatching(ctx context.Context, onReload func(revision string)) {
	go m.src.Watch(ctx, func() {
		rev, err := m.src.Sync(ctx)
		if err != nil {
			return
		}
		if err := m.Reload(rev); err != nil {
			return
		}
		if onReload != nil {
			onReload(rev)
		}
	})
}

// Current returns the most recently loaded Configuration.
func (m *Manager) Current() *Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-parses the workspace and, on success, atomically replaces
// the served Configuration and notifies every watcher. On a parse
// failure the previous Configuration is kept and an error is returned,
// per the config-invalid error kind's "reported at load time; previous
// configuration retained" contract.
func (m *Manager) Reload(revision string) error {
	cfg, err := Load(m.root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.revision = revision
	m.mu.Unlock()

	m.notify()
	return nil
}

// Revision returns the workspace revision last associated with a
// successful Reload.
func (m *Manager) Revision() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Watch returns a channel that receives a value every time Reload
// succeeds. The channel has capacity 1; a pending notification is not
// duplicated if the watcher hasn't drained it yet.
func (m *Manager) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.watchMu.Lock()
	m.watchers = append(m.watchers, ch)
	m.watchMu.Unlock()
	return ch
}

func (m *Manager) notify() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Triggers returns the current configuration's triggers as scheduler
// inputs, for feeding into scheduler.Scheduler.Reload.
func (m *Manager) Triggers() []Trigger {
	cfg := m.Current()
	out := make([]Trigger, 0, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		out = append(out, t)
	}
	return out
}
