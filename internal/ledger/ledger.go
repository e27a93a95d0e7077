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

// Package ledger is the durable, idempotent store of executions and their
// event histories — the source of truth for "what happened." All other
// components observe executions only through this package.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// IsTerminal reports whether a status is one of the four terminal states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates every status this system will ever write a
// row into, keyed by the status a row must currently hold. This is consulted
// by UpdateStatus so illegal transitions (completed -> running) are rejected
// as a validation error rather than silently applied.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusRunning, StatusCancelled, StatusFailed},
	StatusQueued:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
}

func canTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EventType enumerates the lifecycle events recorded against an execution.
// Free-form user events are permitted too (e.g. "progress:ingest_rows").
type EventType string

const (
	EventCreated   EventType = "created"
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetried   EventType = "retried"
	EventCancelled EventType = "cancelled"
)

// TriggerSource identifies what caused an execution to be submitted.
type TriggerSource string

const (
	TriggerAPI      TriggerSource = "api"
	TriggerCLI      TriggerSource = "cli"
	TriggerSchedule TriggerSource = "schedule"
	TriggerRetry    TriggerSource = "retry"
	TriggerWorkflow TriggerSource = "workflow"
	TriggerInternal TriggerSource = "internal"
)

// Execution is one row of durable state for a submitted unit of work.
type Execution struct {
	ID                string
	Workflow          string
	Params            map[string]any
	Lane              string
	TriggerSource     TriggerSource
	LogicalKey        string
	Status            Status
	ParentExecutionID string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Result            map[string]any
	Error             string
	RetryCount        int
	IdempotencyKey    string
	RuntimeName       string
	ExternalRef       string
}

// Event is an immutable, append-only lifecycle record.
type Event struct {
	ID          string
	ExecutionID string
	Type        EventType
	Timestamp   time.Time
	Data        map[string]any
}

// Filter narrows list_executions results.
type Filter struct {
	Workflow      string
	Status        Status
	Lane          string
	TriggerSource TriggerSource
	ParentID      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// Ledger is the storage-backed implementation of the execution ledger.
type Ledger struct {
	conn storage.Conn
}

// New wraps an open storage.Conn as a Ledger. The schema is expected to
// already exist (storage.Open runs migrations before returning).
func New(conn storage.Conn) *Ledger {
	return &Ledger{conn: conn}
}

// CreateExecution inserts a new execution row plus its "created" event in a
// single transaction. If IdempotencyKey is non-empty and already present,
// the existing execution is returned unchanged — no new row, no new event,
// no error.
func (l *Ledger) CreateExecution(ctx context.Context, exec *Execution) (*Execution, error) {
	if exec.IdempotencyKey != "" {
		if existing, err := l.GetByIdempotencyKey(ctx, exec.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	if exec.ID == "" {
		exec.ID = ids.NewExecutionID()
	}
	if exec.Status == "" {
		exec.Status = StatusPending
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = ids.Now()
	}

	tx, err := storage.Begin(ctx, l.conn, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin create: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Tx.Rollback()
		}
	}()

	params, err := marshalJSON(exec.Params)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "ledger: marshal params")
	}
	result, err := marshalJSON(exec.Result)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "ledger: marshal result")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (
			id, workflow, params, lane, trigger_source, logical_key, status,
			parent_execution_id, created_at, started_at, completed_at,
			result, error, retry_count, idempotency_key, runtime_name, external_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Workflow, nullString(params), nullString(exec.Lane), string(exec.TriggerSource),
		nullString(exec.LogicalKey), string(exec.Status), nullString(exec.ParentExecutionID),
		formatTime(exec.CreatedAt), formatTimePtr(exec.StartedAt), formatTimePtr(exec.CompletedAt),
		nullString(result), nullString(exec.Error), exec.RetryCount, nullString(exec.IdempotencyKey),
		nullString(exec.RuntimeName), nullString(exec.ExternalRef),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &conductorerrors.ConflictError{Resource: "execution", Reason: "idempotency or logical key already in use"}
		}
		return nil, conductorerrors.Wrap(err, "ledger: insert execution")
	}

	ev := Event{ID: ids.NewEventID(), ExecutionID: exec.ID, Type: EventCreated, Timestamp: exec.CreatedAt, Data: map[string]any{"workflow": exec.Workflow}}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Tx.Commit(); err != nil {
		return nil, conductorerrors.Wrap(err, "ledger: commit create")
	}
	committed = true
	return exec, nil
}

// GetExecution returns a single execution by id, or (nil, nil) if absent.
func (l *Ledger) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := l.conn.QueryRowContext(ctx, selectExecutionSQL+" WHERE id = ?", id)
	return scanExecution(row)
}

// GetByIdempotencyKey returns the execution matching a non-empty
// idempotency key, or (nil, nil) if none exists.
func (l *Ledger) GetByIdempotencyKey(ctx context.Context, key string) (*Execution, error) {
	if key == "" {
		return nil, nil
	}
	row := l.conn.QueryRowContext(ctx, selectExecutionSQL+" WHERE idempotency_key = ?", key)
	return scanExecution(row)
}

// UpdateStatus validates and applies a status transition, writing the
// derived timestamp and appending the corresponding lifecycle event
// atomically. result is only honoured when newStatus is completed;
// errMsg only when it is a failure-type terminal state.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, newStatus Status, result map[string]any, errMsg string) error {
	tx, err := storage.Begin(ctx, l.conn, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin update: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Tx.Rollback()
		}
	}()

	var current string
	if err := tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = ?", id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return &conductorerrors.NotFoundError{Resource: "execution", ID: id}
		}
		return conductorerrors.Wrap(err, "ledger: read status")
	}

	if !canTransition(Status(current), newStatus) {
		return &conductorerrors.ValidationError{Field: "status", Message: fmt.Sprintf("illegal transition %s -> %s", current, newStatus)}
	}

	now := ids.Now()
	setStarted := newStatus == StatusRunning
	setCompleted := newStatus.IsTerminal()

	resultJSON, err := marshalJSON(result)
	if err != nil {
		return conductorerrors.Wrap(err, "ledger: marshal result")
	}

	query := "UPDATE executions SET status = ?"
	args := []any{string(newStatus)}
	if setStarted {
		query += ", started_at = ?"
		args = append(args, formatTime(now))
	}
	if setCompleted {
		query += ", completed_at = ?"
		args = append(args, formatTime(now))
	}
	if newStatus == StatusCompleted {
		query += ", result = ?"
		args = append(args, nullString(resultJSON))
	}
	if newStatus == StatusFailed || newStatus == StatusTimedOut {
		query += ", error = ?"
		args = append(args, nullString(errMsg))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return conductorerrors.Wrap(err, "ledger: update status")
	}

	evType := statusEventType(newStatus)
	data := map[string]any{}
	if errMsg != "" {
		data["error"] = errMsg
	}
	if err := insertEvent(ctx, tx, Event{ID: ids.NewEventID(), ExecutionID: id, Type: evType, Timestamp: now, Data: data}); err != nil {
		return err
	}

	if err := tx.Tx.Commit(); err != nil {
		return conductorerrors.Wrap(err, "ledger: commit update")
	}
	committed = true
	return nil
}

// SetDispatchInfo records which runtime accepted an execution and the
// external reference it returned. Called once, right after a successful
// adapter.Submit, before the row transitions out of pending.
func (l *Ledger) SetDispatchInfo(ctx context.Context, id, runtimeName, externalRef string) error {
	_, err := l.conn.ExecContext(ctx, "UPDATE executions SET runtime_name = ?, external_ref = ? WHERE id = ?",
		nullString(runtimeName), nullString(externalRef), id)
	if err != nil {
		return conductorerrors.Wrap(err, "ledger: set dispatch info")
	}
	return nil
}

func statusEventType(s Status) EventType {
	switch s {
	case StatusQueued:
		return EventQueued
	case StatusRunning:
		return EventStarted
	case StatusCompleted:
		return EventCompleted
	case StatusCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}

// IncrementRetry bumps retry_count and returns the new value.
func (l *Ledger) IncrementRetry(ctx context.Context, id string) (int, error) {
	tx, err := storage.Begin(ctx, l.conn, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "UPDATE executions SET retry_count = retry_count + 1 WHERE id = ?", id); err != nil {
		return 0, conductorerrors.Wrap(err, "ledger: increment retry")
	}
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT retry_count FROM executions WHERE id = ?", id).Scan(&count); err != nil {
		return 0, conductorerrors.Wrap(err, "ledger: read retry count")
	}
	if err := insertEvent(ctx, tx, Event{ID: ids.NewEventID(), ExecutionID: id, Type: EventRetried, Timestamp: ids.Now(), Data: map[string]any{"retry_count": count}}); err != nil {
		return 0, err
	}
	if err := tx.Tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return count, nil
}

// RecordEvent appends a free-form event for an execution (e.g. progress).
func (l *Ledger) RecordEvent(ctx context.Context, executionID string, eventType EventType, data map[string]any) error {
	return insertEvent(ctx, l.conn, Event{ID: ids.NewEventID(), ExecutionID: executionID, Type: eventType, Timestamp: ids.Now(), Data: data})
}

// GetEvents returns all events for an execution in chronological order.
func (l *Ledger) GetEvents(ctx context.Context, executionID string) ([]Event, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, execution_id, event_type, timestamp, data
		FROM execution_events WHERE execution_id = ? ORDER BY timestamp ASC, id ASC`, executionID)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "ledger: query events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		var data sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.Type, &ts, &data); err != nil {
			return nil, conductorerrors.Wrap(err, "ledger: scan event")
		}
		ev.Timestamp, _ = parseTime(ts)
		if data.Valid {
			_ = json.Unmarshal([]byte(data.String), &ev.Data)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListExecutions applies Filter and returns matching rows ordered by
// created_at descending (tie-broken by id), plus the total matching count.
func (l *Ledger) ListExecutions(ctx context.Context, f Filter) ([]*Execution, int, error) {
	var where []string
	var args []any

	if f.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, f.Workflow)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Lane != "" {
		where = append(where, "lane = ?")
		args = append(args, f.Lane)
	}
	if f.TriggerSource != "" {
		where = append(where, "trigger_source = ?")
		args = append(args, string(f.TriggerSource))
	}
	if f.ParentID != "" {
		where = append(where, "parent_execution_id = ?")
		args = append(args, f.ParentID)
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := l.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, conductorerrors.Wrap(err, "ledger: count executions")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := selectExecutionSQL + whereClause + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := l.conn.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, conductorerrors.Wrap(err, "ledger: list executions")
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecutionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, exec)
	}
	return out, total, rows.Err()
}

func insertEvent(ctx context.Context, q storage.Querier, ev Event) error {
	data, err := marshalJSON(ev.Data)
	if err != nil {
		return conductorerrors.Wrap(err, "ledger: marshal event data")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO execution_events (id, execution_id, event_type, timestamp, data)
		VALUES (?, ?, ?, ?, ?)`, ev.ID, ev.ExecutionID, string(ev.Type), formatTime(ev.Timestamp), nullString(data))
	if err != nil {
		return conductorerrors.Wrap(err, "ledger: insert event")
	}
	return nil
}

const selectExecutionSQL = `
	SELECT id, workflow, params, lane, trigger_source, logical_key, status,
		parent_execution_id, created_at, started_at, completed_at,
		result, error, retry_count, idempotency_key, runtime_name, external_ref
	FROM executions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row *sql.Row) (*Execution, error) {
	exec, err := scanExecutionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func scanExecutionRows(rows *sql.Rows) (*Execution, error) {
	return scanExecutionRow(rows)
}

func scanExecutionRow(s rowScanner) (*Execution, error) {
	var exec Execution
	var lane, logicalKey, parentID, errMsg, idempotencyKey sql.NullString
	var params, result sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString
	var status, trigger string
	var runtimeName, externalRef sql.NullString

	err := s.Scan(&exec.ID, &exec.Workflow, &params, &lane, &trigger, &logicalKey, &status,
		&parentID, &createdAt, &startedAt, &completedAt, &result, &errMsg, &exec.RetryCount, &idempotencyKey,
		&runtimeName, &externalRef)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, conductorerrors.Wrap(err, "ledger: scan execution")
	}

	exec.Lane = lane.String
	exec.LogicalKey = logicalKey.String
	exec.ParentExecutionID = parentID.String
	exec.Error = errMsg.String
	exec.IdempotencyKey = idempotencyKey.String
	exec.RuntimeName = runtimeName.String
	exec.ExternalRef = externalRef.String
	exec.Status = Status(status)
	exec.TriggerSource = TriggerSource(trigger)
	exec.CreatedAt, _ = parseTime(createdAt)
	if startedAt.Valid {
		t, _ := parseTime(startedAt.String)
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := parseTime(completedAt.String)
		exec.CompletedAt = &t
	}
	if params.Valid {
		_ = json.Unmarshal([]byte(params.String), &exec.Params)
	}
	if result.Valid {
		_ = json.Unmarshal([]byte(result.String), &exec.Result)
	}
	return &exec, nil
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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// isUniqueViolation recognises both sqlite and postgres unique-constraint
// error text; neither driver exposes a typed sentinel error here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key value")
}
