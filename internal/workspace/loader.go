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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxDepth bounds how far Load descends into .workflows/, guarding
// against symlink cycles since links are followed.
const maxDepth = 10

// DeclarationsDir is the workspace-relative subtree loader walks.
const DeclarationsDir = ".workflows"

// Load walks root/.workflows, merges every *.yaml/*.yml file in sorted
// path order into one Configuration, and returns it. A parse failure in
// any file fails the whole load; the caller is expected to keep serving
// its previous configuration in that case.
func Load(root string) (*Configuration, error) {
	declRoot := filepath.Join(root, DeclarationsDir)

	paths, err := collectFiles(declRoot, 0)
	if err != nil {
		return nil, fmt.Errorf("walk declarations: %w", err)
	}
	sort.Strings(paths)

	cfg := &Configuration{
		Actions:  make(map[string]Action),
		Tasks:    make(map[string]Task),
		Triggers: make(map[string]Trigger),
	}

	for _, path := range paths {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return cfg, nil
}

func collectFiles(dir string, depth int) ([]string, error) {
	if depth > maxDepth {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		info, err := os.Stat(full) // follows symlinks
		if err != nil {
			continue
		}

		if info.IsDir() {
			sub, err := collectFiles(full, depth+1)
			if err != nil {
				return nil, err
			}
			paths = append(paths, sub...)
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, full)
		}
	}
	return paths, nil
}

// mergeFile parses one declaration file and merges its keys into cfg.
// Later files override earlier ones at the individual action/task/
// trigger name level; globals.secrets is merged key-wise, everything
// else in globals is replaced wholesale by a file that sets it.
func mergeFile(cfg *Configuration, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if raw.Globals.ErrorHandler != "" {
		cfg.Globals.ErrorHandler = raw.Globals.ErrorHandler
	}
	if raw.Globals.BasePath != "" {
		cfg.Globals.BasePath = raw.Globals.BasePath
	}
	if len(raw.Globals.Secrets) > 0 {
		if cfg.Globals.Secrets == nil {
			cfg.Globals.Secrets = make(map[string]string)
		}
		for k, v := range raw.Globals.Secrets {
			cfg.Globals.Secrets[k] = v
		}
	}

	for name, action := range raw.Actions {
		action.Name = name
		cfg.Actions[name] = action
	}
	for name, task := range raw.Tasks {
		task.Name = name
		cfg.Tasks[name] = task
	}
	for name, trigger := range raw.Triggers {
		trigger.Name = name
		cfg.Triggers[name] = trigger
	}

	return nil
}
