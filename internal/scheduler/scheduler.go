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

// Package scheduler drives cron triggers into the job queue. It survives
// hot configuration reloads by carrying forward last_run for any trigger
// whose name is unchanged across a reload.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/orbital/internal/queue"
)

// Trigger is one scheduled job template: a cron cadence that enqueues a
// task run with a fixed input.
type Trigger struct {
	Name     string
	Cron     string
	TaskName string
	Input    map[string]any
	Enabled  bool
}

type scheduled struct {
	trigger Trigger
	expr    *CronExpr
	lastRun *time.Time
	nextRun time.Time
}

// Scheduler holds the parsed trigger map and drives a single long-lived
// task that enqueues due triggers and sleeps until the next one is due.
type Scheduler struct {
	store  queue.Store
	logger *slog.Logger

	mu        sync.Mutex
	triggers  map[string]*scheduled
	reloadCh  chan []Trigger
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// New builds a scheduler from an initial trigger set. Invalid cron
// expressions are rejected immediately.
func New(store queue.Store, triggers []Trigger) (*Scheduler, error) {
	s := &Scheduler{
		store:    store,
		logger:   slog.Default().With(slog.String("component", "scheduler")),
		triggers: make(map[string]*scheduled),
		reloadCh: make(chan []Trigger, 1),
	}
	if err := s.rebuild(triggers, time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild replaces the trigger map, carrying forward last_run for any
// trigger whose name survives from the previous generation.
func (s *Scheduler) rebuild(triggers []Trigger, now time.Time) error {
	next := make(map[string]*scheduled, len(triggers))
	for _, t := range triggers {
		expr, err := ParseCron(t.Cron)
		if err != nil {
			return fmt.Errorf("trigger %s: invalid cron %q: %w", t.Name, t.Cron, err)
		}

		sc := &scheduled{trigger: t, expr: expr}
		if prev, ok := s.triggers[t.Name]; ok {
			sc.lastRun = prev.lastRun
		}

		from := now
		if sc.lastRun != nil {
			from = *sc.lastRun
		}
		sc.nextRun = expr.Next(from)

		next[t.Name] = sc
	}

	s.triggers = next
	return nil
}

// Reload rebuilds the trigger map from a new configuration. Safe to call
// concurrently with Start; it signals the running loop to pick up the
// change rather than mutating state the loop is using.
func (s *Scheduler) Reload(triggers []Trigger) {
	select {
	case s.reloadCh <- triggers:
	default:
		// A reload is already pending; drain and replace with the latest.
		select {
		case <-s.reloadCh:
		default:
		}
		s.reloadCh <- triggers
	}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals cancellation and blocks until the loop task has joined.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		now := time.Now()
		sleep := s.nextWake(now)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case triggers := <-s.reloadCh:
			timer.Stop()
			s.mu.Lock()
			if err := s.rebuild(triggers, time.Now()); err != nil {
				s.logger.Error("scheduler reload rejected", slog.Any("error", err))
			} else {
				s.logger.Info("scheduler reloaded", slog.Int("trigger_count", len(triggers)))
			}
			s.mu.Unlock()
		case <-timer.C:
			s.tick(ctx, time.Now())
		}
	}
}

// nextWake returns how long to sleep before the earliest enabled
// trigger's next_run, capped to a minute so a reload or cancellation
// is never starved by a far-future trigger.
func (s *Scheduler) nextWake(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	const maxSleep = time.Minute
	earliest := now.Add(maxSleep)
	for _, sc := range s.triggers {
		if !sc.trigger.Enabled {
			continue
		}
		if sc.nextRun.Before(earliest) {
			earliest = sc.nextRun
		}
	}

	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > maxSleep {
		d = maxSleep
	}
	return d
}

// tick enqueues every enabled trigger whose next_run has arrived and
// advances its schedule.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*scheduled, 0)
	for _, sc := range s.triggers {
		if !sc.trigger.Enabled {
			continue
		}
		if !sc.nextRun.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		s.fire(ctx, sc, now)

		s.mu.Lock()
		firedAt := sc.nextRun
		sc.lastRun = &firedAt
		sc.nextRun = sc.expr.Next(now)
		s.mu.Unlock()
	}
}

// fire enqueues one job from the trigger's template. Trigger input values
// declared as string maps are used as-is; promoting them to structured
// values and further rendering is the runner's responsibility.
func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) {
	job := &queue.Job{
		TaskName:   sc.trigger.TaskName,
		Input:      sc.trigger.Input,
		Queued:     now,
		Status:     queue.StatusQueued,
		SourceType: queue.SourceTrigger,
		SourceID:   sc.trigger.Name,
	}

	if _, err := s.store.Enqueue(ctx, job); err != nil {
		s.logger.Error("scheduler enqueue failed",
			slog.String("trigger", sc.trigger.Name),
			slog.Any("error", err))
		return
	}
	s.logger.Info("scheduler enqueued job",
		slog.String("trigger", sc.trigger.Name),
		slog.String("task", sc.trigger.TaskName))
}
