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

// Package dag walks a task's step graph in dependency order. It does not
// execute steps; it only decides which step name becomes ready next.
package dag

import "fmt"

// Walker produces a dependency-respecting traversal order over a fixed set
// of steps. It is not safe for concurrent use; the runner drives it from a
// single goroutine, calling Next once per completed step.
type Walker struct {
	edges    map[string][]string // step -> steps that depend on it
	indegree map[string]int      // step -> number of unresolved dependencies
	visited  map[string]bool
	pending  map[string]bool // returned by Next but not yet completed
}

// Edge describes one step and the steps it depends on. The step names must
// be unique; a dependency not present among the steps is a construction
// error.
type Edge struct {
	Step      string
	DependsOn []string
}

// NewWalker builds the outgoing-edge and incoming-count maps for the given
// steps and detects cycles with a DFS over a recursion stack. A back-edge
// fails construction.
func NewWalker(steps []Edge) (*Walker, error) {
	indegree := make(map[string]int, len(steps))
	deps := make(map[string][]string, len(steps))
	edges := make(map[string][]string, len(steps))

	for _, s := range steps {
		if _, dup := indegree[s.Step]; dup {
			return nil, fmt.Errorf("dag: duplicate step %q", s.Step)
		}
		indegree[s.Step] = 0
	}

	for _, s := range steps {
		deps[s.Step] = s.DependsOn
		for _, dep := range s.DependsOn {
			if _, ok := indegree[dep]; !ok {
				return nil, fmt.Errorf("dag: step %q depends on unknown step %q", s.Step, dep)
			}
			edges[dep] = append(edges[dep], s.Step)
			indegree[s.Step]++
		}
	}

	if cycle := findCycle(deps); cycle != "" {
		return nil, fmt.Errorf("dag: cycle detected at step %q", cycle)
	}

	return &Walker{
		edges:    edges,
		indegree: indegree,
		visited:  make(map[string]bool, len(steps)),
		pending:  make(map[string]bool, len(steps)),
	}, nil
}

// findCycle runs DFS with a recursion stack over the dependency map,
// returning the step at which a back-edge was found, or "" if the graph is
// acyclic.
func findCycle(deps map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))

	var visit func(step string) string
	visit = func(step string) string {
		switch state[step] {
		case done:
			return ""
		case visiting:
			return step
		}
		state[step] = visiting
		for _, dep := range deps[step] {
			if cycle := visit(dep); cycle != "" {
				return cycle
			}
		}
		state[step] = done
		return ""
	}

	for step := range deps {
		if state[step] == unvisited {
			if cycle := visit(step); cycle != "" {
				return cycle
			}
		}
	}
	return ""
}

// Next marks completed as visited (if non-empty) and decrements the
// incoming count of each of its dependents, then returns any step whose
// incoming count has reached zero and which has not yet been returned.
// Ties are broken arbitrarily; determinism across ties is not guaranteed.
// Next returns ("", false) once every step has been visited.
func (w *Walker) Next(completed string) (string, bool) {
	if completed != "" && !w.visited[completed] {
		w.visited[completed] = true
		for _, dependent := range w.edges[completed] {
			w.indegree[dependent]--
		}
	}

	for step, count := range w.indegree {
		if count == 0 && !w.visited[step] && !w.pending[step] {
			w.pending[step] = true
			return step, true
		}
	}
	return "", false
}

// Done reports whether every step has been visited.
func (w *Walker) Done() bool {
	return len(w.visited) == len(w.indegree)
}
