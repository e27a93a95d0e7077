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

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conductor-core/conductor/internal/concurrency"
	"github.com/conductor-core/conductor/internal/ids"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Trigger fires one due schedule, returning the execution/run id it started
// so the scheduler can record it against the schedule_runs row.
type Trigger interface {
	Trigger(ctx context.Context, sched Schedule) (executionID string, err error)
}

// Config tunes the scheduler's poll cadence and lease behaviour.
type Config struct {
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// DefaultConfig polls once a second with a lease comfortably longer than a
// single tick, so a slow trigger doesn't race the next poll into stealing it.
var DefaultConfig = Config{PollInterval: time.Second, LeaseTTL: 30 * time.Second}

// Scheduler polls the schedule table for due rows and fires them exactly
// once per owner, using a named lease so multiple runner instances sharing
// the same database never double-trigger a schedule.
type Scheduler struct {
	store   *Store
	guard   *concurrency.Guard
	trigger Trigger
	cfg     Config
	ownerID string
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Scheduler. cfg zero-values fall back to DefaultConfig.
func New(store *Store, guard *concurrency.Guard, trigger Trigger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultConfig.LeaseTTL
	}
	return &Scheduler{
		store:   store,
		guard:   guard,
		trigger: trigger,
		cfg:     cfg,
		ownerID: ids.NewOwnerID(),
		logger:  slog.Default().With(slog.String("component", "scheduler")),
	}
}

// Start begins polling in a background goroutine.
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

	go s.loop(ctx)
}

// Stop signals the poll loop to exit and waits for it to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := ids.Now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("list due schedules", slog.Any("error", err))
		return
	}
	for _, sched := range due {
		go s.fire(ctx, sched, now)
	}
}

// TriggerNow fires a schedule immediately, bypassing the poll loop's due-time
// check but still going through the lease and misfire bookkeeping fire()
// applies on a normal tick. Used by the operations facade's manual trigger.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) error {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sched == nil {
		return &conductorerrors.NotFoundError{Resource: "schedule", ID: id}
	}
	s.fire(ctx, sched, ids.Now())
	return nil
}

// fire acquires the schedule's lease, decides misfire-vs-trigger, and
// advances the schedule row. Failure to acquire the lease means another
// owner already claimed this tick, which is the expected common case in a
// multi-instance deployment, not an error.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule, now time.Time) {
	lockKey := "schedule:" + sched.ID
	acquired, err := s.guard.Acquire(ctx, lockKey, s.ownerID, s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Error("acquire schedule lease", slog.String("schedule", sched.Name), slog.Any("error", err))
		return
	}
	if !acquired {
		return
	}
	defer s.guard.Release(ctx, lockKey, s.ownerID)

	scheduledAt := sched.NextRunAt
	nextRun, err := sched.computeNextRun(now)
	if err != nil {
		s.logger.Error("compute next run", slog.String("schedule", sched.Name), slog.Any("error", err))
		return
	}

	run := Run{ScheduleID: sched.ID, ScheduleName: sched.Name, ScheduledAt: scheduledAt}

	if sched.isMisfired(now) {
		s.logger.Warn("schedule misfired, skipping run",
			slog.String("schedule", sched.Name), slog.Time("scheduled_at", scheduledAt))
		run.Status = RunMissed
	} else {
		executionID, triggerErr := s.trigger.Trigger(ctx, *sched)
		if triggerErr != nil {
			s.logger.Error("trigger schedule", slog.String("schedule", sched.Name), slog.Any("error", triggerErr))
			run.Status = RunFailed
		} else {
			run.Status = RunTriggered
			run.TriggeredExecutionID = executionID
		}
	}

	if err := s.store.RecordRun(ctx, run); err != nil {
		s.logger.Error("record schedule run", slog.String("schedule", sched.Name), slog.Any("error", err))
	}

	ok, err := s.store.Advance(ctx, sched.ID, sched.Version, scheduledAt, nextRun)
	if err != nil {
		s.logger.Error("advance schedule", slog.String("schedule", sched.Name), slog.Any("error", err))
		return
	}
	if !ok {
		s.logger.Warn("schedule advanced by another owner between read and write",
			slog.String("schedule", sched.Name))
	}
}
