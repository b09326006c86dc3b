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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	channelCapacity    = 100
	defaultBufferSize  = 10
	defaultIdleTimeout = 5 * time.Second
)

// ServerSink batches log entries and POSTs them to the control plane. HTTP
// failures are logged, never returned to the caller of Log: the log pipeline
// is best-effort, and the next flush only reattempts the buffer it then
// holds, never an unbounded retry queue.
type ServerSink struct {
	client   *http.Client
	baseURL  string
	jobID    string
	workerID string

	bufferSize  int
	idleTimeout time.Duration

	mu   sync.Mutex
	step string

	entries    chan Entry
	closed     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewServerSink starts the background flush goroutine immediately; callers
// must call Flush once the job finishes, which delivers what is queued and
// stops that goroutine.
func NewServerSink(client *http.Client, baseURL, jobID, workerID string) *ServerSink {
	s := &ServerSink{
		client:      client,
		baseURL:     baseURL,
		jobID:       jobID,
		workerID:    workerID,
		bufferSize:  defaultBufferSize,
		idleTimeout: defaultIdleTimeout,
		entries:     make(chan Entry, channelCapacity),
		closed:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *ServerSink) Log(entry Entry) {
	select {
	case s.entries <- entry:
	default:
		slog.Warn("log sink channel full, dropping entry", "job_id", s.jobID)
	}
}

func (s *ServerSink) SetStepName(step string) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

func (s *ServerSink) currentStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// drain owns the in-memory buffer. It flushes at bufferSize or idleTimeout
// after the first entry of a new buffer (later entries do not restart the
// timer), whichever comes first, then on Flush it drains and flushes
// whatever remains before exiting.
func (s *ServerSink) drain() {
	defer s.wg.Done()

	var buf []Entry
	timer := time.NewTimer(s.idleTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		if len(buf) == 0 {
			return
		}
		step := s.currentStep()
		if err := s.post(context.Background(), step, buf); err != nil {
			slog.Warn("log batch post failed", "job_id", s.jobID, "step", step, "error", err)
		}
		buf = nil
	}

	for {
		select {
		case entry, ok := <-s.entries:
			if !ok {
				flush()
				return
			}
			buf = append(buf, entry)
			if len(buf) >= s.bufferSize {
				if timerRunning {
					if !timer.Stop() {
						<-timer.C
					}
					timerRunning = false
				}
				flush()
				continue
			}
			if !timerRunning {
				timer.Reset(s.idleTimeout)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		case <-s.closed:
			// Drain whatever is already queued without blocking further.
			for {
				select {
				case entry := <-s.entries:
					buf = append(buf, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ServerSink) post(ctx context.Context, step string, entries []Entry) error {
	path := fmt.Sprintf("%s/jobs/%s/logs", s.baseURL, s.jobID)
	if step != "" {
		path = fmt.Sprintf("%s/jobs/%s/steps/%s/logs", s.baseURL, s.jobID, step)
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal log batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *ServerSink) MarkStart(ctx context.Context, ts time.Time, input map[string]any) error {
	step := s.currentStep()
	path := fmt.Sprintf("%s/jobs/%s/start?worker_id=%s", s.baseURL, s.jobID, s.workerID)
	body := map[string]any{"start_datetime": ts, "input": input}
	if step != "" {
		path = fmt.Sprintf("%s/jobs/%s/steps/%s/start?worker_id=%s", s.baseURL, s.jobID, step, s.workerID)
	}
	return s.postJSON(ctx, path, body)
}

func (s *ServerSink) StoreResult(ctx context.Context, success bool, output map[string]any) error {
	step := s.currentStep()
	path := fmt.Sprintf("%s/jobs/%s/results?worker_id=%s", s.baseURL, s.jobID, s.workerID)
	body := map[string]any{"success": success, "output": output, "end_datetime": time.Now().UTC()}
	if step != "" {
		path = fmt.Sprintf("%s/jobs/%s/steps/%s/results?worker_id=%s", s.baseURL, s.jobID, step, s.workerID)
	}
	return s.postJSON(ctx, path, body)
}

func (s *ServerSink) postJSON(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Flush blocks until the current buffer is POSTed, bypassing the idle timer.
func (s *ServerSink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.closeOnce.Do(func() { close(s.closed) })
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
