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

// Package scheduler computes and dispatches due workflow/task triggers from
// a durably stored schedule table, using a named lease to keep exactly one
// runner instance firing a given schedule at a time and recording misfires
// when a schedule falls too far behind to safely catch up.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates how NextRunAt is recomputed after a schedule fires.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
)

// Schedule is one durable trigger definition.
type Schedule struct {
	ID                  string
	Name                string
	TargetType          string // "workflow" or "task"
	TargetName          string
	Kind                Kind
	CronExpression      string
	IntervalSeconds     int
	Timezone            string
	Enabled             bool
	LastRunAt           *time.Time
	NextRunAt           time.Time
	ParamsTemplate      map[string]any
	MaxInstances        int
	MisfireGraceSeconds int
	Version             int
}

// cronParser accepts the standard 5-field format plus @hourly/@daily-style
// descriptors; conductor schedules never specify seconds.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// computeNextRun returns the next fire time strictly after `from`, honouring
// the schedule's timezone for cron schedules.
func (s *Schedule) computeNextRun(from time.Time) (time.Time, error) {
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid timezone %q: %w", s.Timezone, err)
		}
		loc = l
	}

	switch s.Kind {
	case KindInterval:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("scheduler: interval schedule %q has non-positive interval_seconds", s.Name)
		}
		return from.Add(time.Duration(s.IntervalSeconds) * time.Second), nil
	default:
		sched, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", s.CronExpression, err)
		}
		return sched.Next(from.In(loc)), nil
	}
}

// misfireGrace returns the configured grace period, defaulting to 60s to
// match the schema's column default.
func (s *Schedule) misfireGrace() time.Duration {
	if s.MisfireGraceSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.MisfireGraceSeconds) * time.Second
}

// isMisfired reports whether `now` has drifted past NextRunAt by more than
// the schedule's misfire grace, meaning the due run should be recorded as
// missed rather than triggered late.
func (s *Schedule) isMisfired(now time.Time) bool {
	return now.Sub(s.NextRunAt) > s.misfireGrace()
}

// RunStatus is the outcome recorded for one schedule_runs row.
type RunStatus string

const (
	RunTriggered RunStatus = "triggered"
	RunMissed    RunStatus = "missed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Run is one row of schedule_runs, recording what happened at a given due
// time for a given schedule.
type Run struct {
	ID                    string
	ScheduleID            string
	ScheduleName          string
	ScheduledAt           time.Time
	Status                RunStatus
	TriggeredExecutionID  string
}
