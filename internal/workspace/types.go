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

// Package workspace is the content-addressed bundle of action, task, and
// trigger declarations that server and workers agree on: a source
// (folder or git) that syncs and watches, a loader that merges YAML
// files into one configuration, and a tarball format for shipping the
// bundle to workers.
package workspace

// InputField describes one declared input of an action.
type InputField struct {
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Order       int    `yaml:"order,omitempty" json:"order,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Action is a reusable unit of execution: a command template plus its
// declared input and output shape.
type Action struct {
	Name    string                `yaml:"-" json:"name"`
	Type    string                `yaml:"type" json:"type"`
	Command string                `yaml:"command" json:"command"`
	Inputs  map[string]InputField `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs map[string]InputField `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// FlowStep is one node of a Task's DAG.
type FlowStep struct {
	Action          string            `yaml:"action" json:"action"`
	Input           map[string]string `yaml:"input,omitempty" json:"input,omitempty"`
	DependsOn       []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ContinueOnFail  bool              `yaml:"continue_on_fail,omitempty" json:"continue_on_fail,omitempty"`
	OnError         string            `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// Task is a named DAG of steps, each invoking a declared action.
type Task struct {
	Name   string              `yaml:"-" json:"name"`
	Inputs map[string]InputField `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Flow   map[string]FlowStep `yaml:"flow" json:"flow"`
}

// Trigger is a named cron schedule that enqueues a task on its cadence.
type Trigger struct {
	Name     string         `yaml:"-" json:"name"`
	Type     string         `yaml:"type" json:"type"`
	Cron     string         `yaml:"cron" json:"cron"`
	Task     string         `yaml:"task" json:"task"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Enabled  bool           `yaml:"enabled" json:"enabled"`
}

// Globals holds workspace-wide defaults applied across actions and tasks.
type Globals struct {
	ErrorHandler string            `yaml:"error_handler,omitempty" json:"error_handler,omitempty"`
	BasePath     string            `yaml:"base_path,omitempty" json:"base_path,omitempty"`
	Secrets      map[string]string `yaml:"secrets,omitempty" json:"secrets,omitempty"`
}

// Configuration is the fully merged set of declarations loaded from
// every file under .workflows/. It's rebuilt atomically on every
// workspace reload; readers always see a complete, self-consistent
// snapshot.
type Configuration struct {
	Globals  Globals            `yaml:"globals,omitempty" json:"globals,omitempty"`
	Actions  map[string]Action  `yaml:"actions,omitempty" json:"actions,omitempty"`
	Tasks    map[string]Task    `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Triggers map[string]Trigger `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// rawFile mirrors Configuration's shape for YAML unmarshalling, before
// names are stamped onto the map values.
type rawFile struct {
	Globals  Globals               `yaml:"globals"`
	Actions  map[string]Action     `yaml:"actions"`
	Tasks    map[string]Task       `yaml:"tasks"`
	Triggers map[string]Trigger    `yaml:"triggers"`
}
