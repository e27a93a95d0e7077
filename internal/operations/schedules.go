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

package operations

import (
	"context"

	"github.com/conductor-core/conductor/internal/scheduler"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// ListSchedules returns every configured schedule.
func (f *Facade) ListSchedules(ctx context.Context) OperationResult[[]*scheduler.Schedule] {
	return run(func() ([]*scheduler.Schedule, error) {
		return f.Scheduler.List(ctx)
	})
}

// GetSchedule fetches a single schedule by id.
func (f *Facade) GetSchedule(ctx context.Context, id string) OperationResult[*scheduler.Schedule] {
	return run(func() (*scheduler.Schedule, error) {
		sched, err := f.Scheduler.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sched == nil {
			return nil, &conductorerrors.NotFoundError{Resource: "schedule", ID: id}
		}
		return sched, nil
	})
}

// CreateSchedule registers a new schedule.
func (f *Facade) CreateSchedule(ctx context.Context, opCtx OperationContext, sched *scheduler.Schedule) OperationResult[*scheduler.Schedule] {
	if result, skip := dryRunSkip(opCtx, sched); skip {
		return result
	}
	return run(func() (*scheduler.Schedule, error) {
		return f.Scheduler.Create(ctx, sched)
	})
}

// UpdateSchedule overwrites a schedule's trigger definition, recomputing
// next_run_at from the new cron/interval expression.
func (f *Facade) UpdateSchedule(ctx context.Context, opCtx OperationContext, id string, sched *scheduler.Schedule) OperationResult[*scheduler.Schedule] {
	if result, skip := dryRunSkip(opCtx, sched); skip {
		return result
	}
	return run(func() (*scheduler.Schedule, error) {
		return f.Scheduler.Update(ctx, id, sched)
	})
}

// TriggerSchedule fires a schedule now rather than waiting for its
// next_run_at. The scheduler's misfire check still applies: a schedule
// whose next_run_at is further in the past than its misfire grace is
// recorded as missed instead of triggered.
func (f *Facade) TriggerSchedule(ctx context.Context, opCtx OperationContext, id string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		if f.SchedulerRun == nil {
			return false, &conductorerrors.InternalError{Message: "scheduler runner not attached"}
		}
		return true, f.SchedulerRun.TriggerNow(ctx, id)
	})
}

// PauseSchedule disables a schedule so the tick loop stops firing it.
func (f *Facade) PauseSchedule(ctx context.Context, opCtx OperationContext, id string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		return true, f.Scheduler.SetEnabled(ctx, id, false)
	})
}

// ResumeSchedule re-enables a paused schedule.
func (f *Facade) ResumeSchedule(ctx context.Context, opCtx OperationContext, id string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		return true, f.Scheduler.SetEnabled(ctx, id, true)
	})
}

// DeleteSchedule disables a schedule, the same update PauseSchedule makes
// (ResumeSchedule re-enables it); schedules are never hard deleted so
// schedule_runs history keeps pointing at an existing row.
func (f *Facade) DeleteSchedule(ctx context.Context, opCtx OperationContext, id string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		return true, f.Scheduler.SetEnabled(ctx, id, false)
	})
}
