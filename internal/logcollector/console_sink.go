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

package logcollector

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// ConsoleSink writes entries to an io.Writer (normally os.Stdout) for
// local, workspace-only ad hoc runs with no server to report to.
type ConsoleSink struct {
	out io.Writer

	mu   sync.Mutex
	step string
}

// NewConsoleSink returns a sink that formats every entry to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) Log(entry Entry) {
	stream := "stdout"
	if entry.IsStderr {
		stream = "stderr"
	}
	fmt.Fprintf(c.out, "[%s] %s %s\n", entry.Timestamp.Format(time.RFC3339), stream, entry.Message)
}

func (c *ConsoleSink) SetStepName(step string) {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
}

func (c *ConsoleSink) MarkStart(ctx context.Context, ts time.Time, input map[string]any) error {
	c.mu.Lock()
	step := c.step
	c.mu.Unlock()

	if step != "" {
		fmt.Fprintf(c.out, "=== step %s started at %s, input=%v ===\n", step, ts.Format(time.RFC3339), input)
	} else {
		fmt.Fprintf(c.out, "=== job started at %s, input=%v ===\n", ts.Format(time.RFC3339), input)
	}
	return nil
}

func (c *ConsoleSink) StoreResult(ctx context.Context, success bool, output map[string]any) error {
	c.mu.Lock()
	step := c.step
	c.mu.Unlock()

	label := "job"
	if step != "" {
		label = fmt.Sprintf("step %s", step)
	}
	fmt.Fprintf(c.out, "=== %s finished, success=%v, output=%v ===\n", label, success, output)
	return nil
}

func (c *ConsoleSink) Flush(ctx context.Context) error { return nil }
