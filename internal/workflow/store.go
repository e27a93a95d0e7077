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

package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
)

// RunRecord is the durable record of one workflow run, mirrored into
// workflow_runs as the runner executes a plan.
type RunRecord struct {
	ID            string
	Workflow      string
	Domain        string
	Status        RunStatus
	TriggerSource string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// StepRecord is the durable record of one step within a run.
type StepRecord struct {
	ID          string
	RunID       string
	StepName    string
	StepType    StepType
	Seq         int
	Status      string
	Attempt     int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Output      map[string]any
}

// Store persists workflow runs, their steps, and their events, giving
// get-steps and run-listing operations something durable to read back
// after the in-memory Runner has finished.
type Store struct {
	conn storage.Conn
}

// NewStore wraps a storage.Conn as a workflow Store.
func NewStore(conn storage.Conn) *Store {
	return &Store{conn: conn}
}

// CreateRun inserts the initial row for a run, in the "running" state.
func (s *Store) CreateRun(ctx context.Context, rec *RunRecord) (*RunRecord, error) {
	if rec.ID == "" {
		rec.ID = ids.NewExecutionID()
	}
	now := ids.Now()
	rec.StartedAt = &now
	rec.Status = RunRunning
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow, domain, status, trigger_source, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		rec.ID, rec.Workflow, nullString(rec.Domain), string(rec.Status), rec.TriggerSource, formatTime(*rec.StartedAt))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CompleteRun marks a run terminal.
func (s *Store) CompleteRun(ctx context.Context, id string, status RunStatus) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE workflow_runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), formatTime(ids.Now()), id)
	return err
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, workflow, domain, status, trigger_source, started_at, completed_at
		FROM workflow_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs for a workflow name, most recent first. An empty
// name lists across all workflows.
func (s *Store) ListRuns(ctx context.Context, workflowName string, limit, offset int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workflow, domain, status, trigger_source, started_at, completed_at FROM workflow_runs`
	args := []any{}
	if workflowName != "" {
		query += ` WHERE workflow = ?`
		args = append(args, workflowName)
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordStep upserts a step's current status for a run; steps are
// identified by (run_id, step_name) so a retried step overwrites the same
// row rather than growing duplicates.
func (s *Store) RecordStep(ctx context.Context, rec *StepRecord) error {
	outJSON, err := marshalJSON(rec.Output)
	if err != nil {
		return err
	}
	existing, err := s.findStepID(ctx, rec.RunID, rec.StepName)
	if err != nil {
		return err
	}
	if existing == "" {
		if rec.ID == "" {
			rec.ID = ids.NewExecutionID()
		}
		_, err = s.conn.ExecContext(ctx, `
			INSERT INTO workflow_steps (id, run_id, step_name, step_type, seq, status, attempt, started_at, completed_at, error, output)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.RunID, rec.StepName, string(rec.StepType), rec.Seq, rec.Status, rec.Attempt,
			formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt), nullString(rec.Error), nullString(outJSON))
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		UPDATE workflow_steps SET status = ?, attempt = ?, started_at = ?, completed_at = ?, error = ?, output = ?
		WHERE id = ?`,
		rec.Status, rec.Attempt, formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt), nullString(rec.Error), nullString(outJSON), existing)
	return err
}

func (s *Store) findStepID(ctx context.Context, runID, stepName string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx, `SELECT id FROM workflow_steps WHERE run_id = ? AND step_name = ?`, runID, stepName).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// ListSteps returns every step recorded for a run, ordered by seq ascending.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, run_id, step_name, step_type, seq, status, attempt, started_at, completed_at, error, output
		FROM workflow_steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepRecord
	for rows.Next() {
		var rec StepRecord
		var startedAt, completedAt, errMsg, output sql.NullString
		var stepType string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.StepName, &stepType, &rec.Seq, &rec.Status, &rec.Attempt,
			&startedAt, &completedAt, &errMsg, &output); err != nil {
			return nil, err
		}
		rec.StepType = StepType(stepType)
		rec.Error = errMsg.String
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
			rec.StartedAt = &t
		}
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
			rec.CompletedAt = &t
		}
		if output.Valid {
			_ = json.Unmarshal([]byte(output.String), &rec.Output)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecordEvent appends an immutable event against a run.
func (s *Store) RecordEvent(ctx context.Context, runID, stepName, eventType string, data map[string]any) error {
	dataJSON, err := marshalJSON(data)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO workflow_events (id, run_id, step_name, event_type, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ids.NewEventID(), runID, nullString(stepName), eventType, formatTime(ids.Now()), nullString(dataJSON))
	return err
}

func scanRun(row *sql.Row) (*RunRecord, error) {
	var rec RunRecord
	var domain, startedAt, completedAt sql.NullString
	var status string
	if err := row.Scan(&rec.ID, &rec.Workflow, &domain, &status, &rec.TriggerSource, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return finishScanRun(&rec, domain, status, startedAt, completedAt), nil
}

func scanRunRow(rows *sql.Rows) (*RunRecord, error) {
	var rec RunRecord
	var domain, startedAt, completedAt sql.NullString
	var status string
	if err := rows.Scan(&rec.ID, &rec.Workflow, &domain, &status, &rec.TriggerSource, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	return finishScanRun(&rec, domain, status, startedAt, completedAt), nil
}

func finishScanRun(rec *RunRecord, domain sql.NullString, status string, startedAt, completedAt sql.NullString) *RunRecord {
	rec.Domain = domain.String
	rec.Status = RunStatus(status)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		rec.CompletedAt = &t
	}
	return rec
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
