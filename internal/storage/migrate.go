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

package storage

import (
	"context"
	"fmt"
)

// schema holds the logical tables named in the external interface contract.
// SQLite and Postgres share the same shape; only a handful of column type
// names differ (TEXT vs TIMESTAMPTZ, INTEGER vs BIGINT), so the DDL is
// generated once per driver rather than duplicated.
func schema(driver Driver) []string {
	ts := "TEXT"
	bigint := "INTEGER"
	if driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
		bigint = "BIGINT"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			params TEXT,
			lane TEXT,
			trigger_source TEXT NOT NULL,
			logical_key TEXT,
			status TEXT NOT NULL,
			parent_execution_id TEXT,
			created_at %s NOT NULL,
			started_at %s,
			completed_at %s,
			result TEXT,
			error TEXT,
			retry_count %s NOT NULL DEFAULT 0,
			idempotency_key TEXT,
			runtime_name TEXT,
			external_ref TEXT
		)`, ts, ts, ts, bigint),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_logical_key ON executions(logical_key) WHERE logical_key IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_idempotency_key ON executions(idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_parent ON executions(parent_execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_claim ON executions(status, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS execution_events (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp %s NOT NULL,
			data TEXT
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_events_execution ON execution_events(execution_id, timestamp)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			workflow TEXT NOT NULL,
			params TEXT,
			error TEXT,
			retry_count %s NOT NULL DEFAULT 0,
			max_retries %s NOT NULL DEFAULT 0,
			created_at %s NOT NULL,
			last_retry_at %s,
			resolved_at %s,
			resolved_by TEXT
		)`, bigint, bigint, ts, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_dlq_resolved ON dead_letters(resolved_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_execution ON dead_letters(execution_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS concurrency_locks (
			lock_key TEXT PRIMARY KEY,
			execution_id TEXT,
			acquired_at %s NOT NULL,
			expires_at %s NOT NULL
		)`, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS manifest (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			stage TEXT NOT NULL,
			stage_rank %s NOT NULL,
			row_count %s NOT NULL DEFAULT 0,
			metrics TEXT,
			updated_at %s NOT NULL
		)`, bigint, bigint, ts),
		// Every advance (including reset_to) inserts a new row rather than
		// updating in place, so history survives; lookups read the max rank.
		`CREATE INDEX IF NOT EXISTS idx_manifest_lookup ON manifest(domain, partition_key, stage_rank DESC)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			target_type TEXT NOT NULL,
			target_name TEXT NOT NULL,
			schedule_kind TEXT NOT NULL,
			cron_expression TEXT,
			interval_seconds %s,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at %s,
			next_run_at %s,
			params_template TEXT,
			max_instances %s NOT NULL DEFAULT 1,
			misfire_grace_seconds %s NOT NULL DEFAULT 60,
			version %s NOT NULL DEFAULT 1
		)`, bigint, ts, ts, bigint, bigint, bigint),
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schedule_locks (
			schedule_id TEXT PRIMARY KEY,
			locked_by TEXT NOT NULL,
			locked_at %s NOT NULL,
			expires_at %s NOT NULL
		)`, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schedule_runs (
			id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			schedule_name TEXT NOT NULL,
			scheduled_at %s NOT NULL,
			status TEXT NOT NULL,
			triggered_execution_id TEXT
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_schedule_runs_schedule ON schedule_runs(schedule_id, scheduled_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			domain TEXT,
			status TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			started_at %s,
			completed_at %s
		)`, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflow_steps (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			step_type TEXT NOT NULL,
			seq %s NOT NULL,
			status TEXT NOT NULL,
			attempt %s NOT NULL DEFAULT 0,
			started_at %s,
			completed_at %s,
			error TEXT,
			output TEXT
		)`, bigint, bigint, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_run ON workflow_steps(run_id, seq)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflow_events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_name TEXT,
			event_type TEXT NOT NULL,
			timestamp %s NOT NULL,
			data TEXT
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_workflow_events_run ON workflow_events(run_id, timestamp)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS alert_channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			config TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at %s NOT NULL
		)`, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			channel_id TEXT,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			context TEXT,
			created_at %s NOT NULL,
			acknowledged_at %s,
			acknowledged_by TEXT
		)`, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_alerts_ack ON alerts(acknowledged_at)`,
	}
}

func migrate(ctx context.Context, c Conn) error {
	for _, stmt := range schema(c.Driver()) {
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w (statement: %.60s)", err, stmt)
		}
	}
	return nil
}
