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

// Package retention deletes rows past their configured age from every
// table that accumulates history: execution events, resolved dead letters,
// schedule runs, and terminal executions. Each table purges independently
// so one failing delete doesn't block the rest.
package retention

import (
	"context"
	"time"

	"github.com/conductor-core/conductor/internal/config"
	"github.com/conductor-core/conductor/internal/storage"
)

// TableResult is one table's purge outcome.
type TableResult struct {
	Table        string    `json:"table"`
	DeletedCount int64     `json:"deleted_count"`
	Cutoff       time.Time `json:"cutoff"`
	Error        string    `json:"error,omitempty"`
}

// Report aggregates every table's purge outcome.
type Report struct {
	Tables       []TableResult `json:"tables"`
	TotalDeleted int64         `json:"total_deleted"`
	Success      bool          `json:"success"`
}

// rule describes one table's purge: the timestamp column used as the
// cutoff boundary, and an optional extra predicate (e.g. terminal-only for
// executions) appended with AND.
type rule struct {
	table         string
	timestampCol  string
	retentionDays int
	extraWhere    string
}

// PurgeAll runs every configured table purge against now, returning a
// report that never aborts early: a failing table's error is recorded and
// the remaining tables still run.
func PurgeAll(ctx context.Context, conn storage.Conn, cfg config.RetentionConfig, now time.Time) Report {
	rules := []rule{
		{table: "execution_events", timestampCol: "timestamp", retentionDays: cfg.EventDays},
		{table: "executions", timestampCol: "completed_at", retentionDays: cfg.ExecutionDays,
			extraWhere: "status IN ('completed', 'failed', 'cancelled', 'timed_out')"},
		{table: "dead_letters", timestampCol: "resolved_at", retentionDays: cfg.DLQDays,
			extraWhere: "resolved_at IS NOT NULL"},
		{table: "schedule_runs", timestampCol: "scheduled_at", retentionDays: cfg.ScheduleRunDays},
	}

	report := Report{Success: true}
	for _, r := range rules {
		result := purgeTable(ctx, conn, r, now)
		if result.Error != "" {
			report.Success = false
		}
		report.TotalDeleted += result.DeletedCount
		report.Tables = append(report.Tables, result)
	}
	return report
}

func purgeTable(ctx context.Context, conn storage.Conn, r rule, now time.Time) TableResult {
	if r.retentionDays <= 0 {
		return TableResult{Table: r.table, Cutoff: now}
	}
	cutoff := now.Add(-time.Duration(r.retentionDays) * 24 * time.Hour)

	query := "DELETE FROM " + r.table + " WHERE " + r.timestampCol + " < ?"
	if r.extraWhere != "" {
		query += " AND " + r.extraWhere
	}

	result, err := conn.ExecContext(ctx, query, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return TableResult{Table: r.table, Cutoff: cutoff, Error: err.Error()}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return TableResult{Table: r.table, Cutoff: cutoff, Error: err.Error()}
	}
	return TableResult{Table: r.table, Cutoff: cutoff, DeletedCount: n}
}
