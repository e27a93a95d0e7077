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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Store is the durable backing for schedules and their run history.
type Store struct {
	conn storage.Conn
}

// NewStore wraps an open storage.Conn.
func NewStore(conn storage.Conn) *Store {
	return &Store{conn: conn}
}

// Create inserts a new schedule, computing its first NextRunAt from now.
func (s *Store) Create(ctx context.Context, sched *Schedule) (*Schedule, error) {
	if sched.ID == "" {
		sched.ID = ids.NewExecutionID()
	}
	if sched.Version == 0 {
		sched.Version = 1
	}
	next, err := sched.computeNextRun(ids.Now())
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = next

	params, err := marshalJSON(sched.ParamsTemplate)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: marshal params_template")
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO schedules (
			id, name, target_type, target_name, schedule_kind, cron_expression,
			interval_seconds, timezone, enabled, last_run_at, next_run_at,
			params_template, max_instances, misfire_grace_seconds, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, sched.TargetType, sched.TargetName, string(sched.Kind),
		nullString(sched.CronExpression), nullInt(sched.IntervalSeconds), sched.Timezone,
		boolToInt(sched.Enabled), nil, formatTime(sched.NextRunAt),
		nullString(params), sched.MaxInstances, sched.MisfireGraceSeconds, sched.Version,
	)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: create schedule")
	}
	return sched, nil
}

const selectScheduleSQL = `
	SELECT id, name, target_type, target_name, schedule_kind, cron_expression,
		interval_seconds, timezone, enabled, last_run_at, next_run_at,
		params_template, max_instances, misfire_grace_seconds, version
	FROM schedules`

// Update overwrites a schedule's trigger definition (cron/interval
// expression, timezone, params template, instance/misfire limits) and
// recomputes next_run_at from now, since a changed cron expression or
// interval invalidates whatever was previously scheduled. The enabled flag
// and run bookkeeping (last_run_at, version) are untouched here; use
// SetEnabled and Advance for those.
func (s *Store) Update(ctx context.Context, id string, sched *Schedule) (*Schedule, error) {
	next, err := sched.computeNextRun(ids.Now())
	if err != nil {
		return nil, err
	}
	sched.ID = id
	sched.NextRunAt = next

	params, err := marshalJSON(sched.ParamsTemplate)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: marshal params_template")
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE schedules SET
			target_type = ?, target_name = ?, schedule_kind = ?, cron_expression = ?,
			interval_seconds = ?, timezone = ?, next_run_at = ?, params_template = ?,
			max_instances = ?, misfire_grace_seconds = ?
		WHERE id = ?`,
		sched.TargetType, sched.TargetName, string(sched.Kind), nullString(sched.CronExpression),
		nullInt(sched.IntervalSeconds), sched.Timezone, formatTime(sched.NextRunAt),
		nullString(params), sched.MaxInstances, sched.MisfireGraceSeconds, id,
	)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: update schedule")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: update rows affected")
	}
	if n == 0 {
		return nil, &conductorerrors.NotFoundError{Resource: "schedule", ID: id}
	}
	return s.Get(ctx, id)
}

// Get loads a schedule by id, returning (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	row := s.conn.QueryRowContext(ctx, selectScheduleSQL+" WHERE id = ?", id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: get schedule")
	}
	return sched, nil
}

// List returns every schedule, ordered by name.
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, selectScheduleSQL+" ORDER BY name")
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: list schedules")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDue returns every enabled schedule whose next_run_at is at or before
// `before`, ordered by next_run_at so the most overdue fire first.
func (s *Store) ListDue(ctx context.Context, before time.Time) ([]*Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, selectScheduleSQL+`
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC`, formatTime(before))
	if err != nil {
		return nil, conductorerrors.Wrap(err, "scheduler: list due schedules")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// SetEnabled toggles a schedule's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE schedules SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return conductorerrors.Wrap(err, "scheduler: set enabled")
	}
	return nil
}

// Advance records a completed tick: last_run_at moves to scheduledAt,
// next_run_at moves to nextRun, and version increments. The update is
// conditioned on the caller's observed version so two runner instances that
// both read the same due schedule cannot both advance it.
func (s *Store) Advance(ctx context.Context, id string, expectedVersion int, scheduledAt, nextRun time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		nullString(formatTime(scheduledAt)), formatTime(nextRun), id, expectedVersion)
	if err != nil {
		return false, conductorerrors.Wrap(err, "scheduler: advance schedule")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, conductorerrors.Wrap(err, "scheduler: advance rows affected")
	}
	return n == 1, nil
}

// RecordRun appends a schedule_runs row documenting one fire attempt.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		run.ID = ids.NewExecutionID()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO schedule_runs (id, schedule_id, schedule_name, scheduled_at, status, triggered_execution_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScheduleID, run.ScheduleName, formatTime(run.ScheduledAt), string(run.Status),
		nullString(run.TriggeredExecutionID))
	if err != nil {
		return conductorerrors.Wrap(err, "scheduler: record run")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sched                                Schedule
		kind, nextRunAt                      string
		cronExpr, lastRunAt, paramsTemplate  sql.NullString
		intervalSeconds                      sql.NullInt64
		enabled                              int
	)
	err := row.Scan(
		&sched.ID, &sched.Name, &sched.TargetType, &sched.TargetName, &kind, &cronExpr,
		&intervalSeconds, &sched.Timezone, &enabled, &lastRunAt, &nextRunAt,
		&paramsTemplate, &sched.MaxInstances, &sched.MisfireGraceSeconds, &sched.Version,
	)
	if err != nil {
		return nil, err
	}
	sched.Kind = Kind(kind)
	sched.CronExpression = cronExpr.String
	sched.IntervalSeconds = int(intervalSeconds.Int64)
	sched.Enabled = enabled != 0
	if next, err := parseTime(nextRunAt); err == nil {
		sched.NextRunAt = next
	}
	if lastRunAt.Valid {
		t, err := parseTime(lastRunAt.String)
		if err != nil {
			return nil, err
		}
		sched.LastRunAt = &t
	}
	if paramsTemplate.Valid {
		var params map[string]any
		if err := json.Unmarshal([]byte(paramsTemplate.String), &params); err != nil {
			return nil, err
		}
		sched.ParamsTemplate = params
	}
	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
