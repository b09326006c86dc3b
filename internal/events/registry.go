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

package events

import "sync"

// Registry maps job ids to broadcast hubs, creating a hub on first
// subscribe and removing it once its last subscriber drops.
type Registry struct {
	mu   sync.Mutex
	hubs map[string]*hub
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[string]*hub)}
}

// Subscription is a live subscription to one job's event stream.
type Subscription struct {
	C      <-chan Event
	jobID  string
	id     int
	reg    *Registry
	closed bool
}

// Close unsubscribes, removing the hub entirely if this was its last
// subscriber.
func (s *Subscription) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.reg.unsubscribe(s.jobID, s.id)
}

// Subscribe returns a live subscription for jobID, creating its hub if
// this is the first subscriber.
func (r *Registry) Subscribe(jobID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hubs[jobID]
	if !ok {
		h = newHub()
		r.hubs[jobID] = h
	}
	id, ch := h.subscribe()
	return &Subscription{C: ch, jobID: jobID, id: id, reg: r}
}

func (r *Registry) unsubscribe(jobID string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hubs[jobID]
	if !ok {
		return
	}
	h.unsubscribe(id)
	if h.empty() {
		delete(r.hubs, jobID)
	}
}

// Publish delivers evt to every current subscriber of jobID. Publishing
// to a job with no subscribers is a no-op; no hub is created.
func (r *Registry) Publish(jobID string, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hubs[jobID]
	if !ok {
		return
	}
	h.publish(evt)
}

// SubscriberCount reports how many live subscriptions a job currently
// has; used by tests and diagnostics.
func (r *Registry) SubscriberCount(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[jobID]
	if !ok {
		return 0
	}
	return len(h.subscribers)
}
