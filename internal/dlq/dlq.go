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

// Package dlq holds executions that exhausted retries, pending operator
// intervention or an explicit replay.
package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// DeadLetter is a failed execution awaiting intervention or replay.
type DeadLetter struct {
	ID           string
	ExecutionID  string
	Workflow     string
	Params       map[string]any
	Error        string
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	LastRetryAt  *time.Time
	ResolvedAt   *time.Time
	ResolvedBy   string
}

// Filter narrows list queries.
type Filter struct {
	Workflow string
	Limit    int
	Offset   int
}

// Queue is the storage-backed dead-letter queue.
type Queue struct {
	conn storage.Conn
}

// New wraps an open storage.Conn as a Queue.
func New(conn storage.Conn) *Queue {
	return &Queue{conn: conn}
}

// Add records a new dead letter for an exhausted execution.
func (q *Queue) Add(ctx context.Context, executionID, workflow string, params map[string]any, errMsg string, maxRetries int) (*DeadLetter, error) {
	dl := &DeadLetter{
		ID:          ids.NewExecutionID(),
		ExecutionID: executionID,
		Workflow:    workflow,
		Params:      params,
		Error:       errMsg,
		MaxRetries:  maxRetries,
		CreatedAt:   ids.Now(),
	}
	paramsJSON, err := marshalJSON(dl.Params)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "dlq: marshal params")
	}
	_, err = q.conn.ExecContext(ctx, `
		INSERT INTO dead_letters (id, execution_id, workflow, params, error, retry_count, max_retries, created_at, last_retry_at, resolved_at, resolved_by)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, NULL, NULL, NULL)`,
		dl.ID, dl.ExecutionID, dl.Workflow, nullString(paramsJSON), dl.Error, dl.MaxRetries, formatTime(dl.CreatedAt))
	if err != nil {
		return nil, conductorerrors.Wrap(err, "dlq: insert")
	}
	return dl, nil
}

// Get returns a single dead letter, or (nil, nil) if absent.
func (q *Queue) Get(ctx context.Context, id string) (*DeadLetter, error) {
	row := q.conn.QueryRowContext(ctx, selectSQL+" WHERE id = ?", id)
	dl, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return dl, err
}

// ListUnresolved returns dead letters where resolved_at is still null.
func (q *Queue) ListUnresolved(ctx context.Context, f Filter) ([]*DeadLetter, error) {
	return q.list(ctx, f, true)
}

// ListAll returns every dead letter matching the filter, resolved or not.
func (q *Queue) ListAll(ctx context.Context, f Filter) ([]*DeadLetter, error) {
	return q.list(ctx, f, false)
}

func (q *Queue) list(ctx context.Context, f Filter, unresolvedOnly bool) ([]*DeadLetter, error) {
	query := selectSQL
	var args []any
	clauses := []string{}
	if unresolvedOnly {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	if f.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, f.Workflow)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "dlq: list")
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		dl, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// MarkRetryAttempted increments retry_count and stamps last_retry_at.
func (q *Queue) MarkRetryAttempted(ctx context.Context, id string) error {
	_, err := q.conn.ExecContext(ctx, "UPDATE dead_letters SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?", formatTime(ids.Now()), id)
	if err != nil {
		return conductorerrors.Wrap(err, "dlq: mark retry attempted")
	}
	return nil
}

// Resolve is a one-way transition marking the dead letter handled.
func (q *Queue) Resolve(ctx context.Context, id, resolvedBy, note string) error {
	dl, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if dl == nil {
		return &conductorerrors.NotFoundError{Resource: "dead_letter", ID: id}
	}
	if dl.ResolvedAt != nil {
		return &conductorerrors.ConflictError{Resource: "dead_letter", Reason: "already resolved"}
	}
	errMsg := dl.Error
	if note != "" {
		errMsg = dl.Error + " | resolution note: " + note
	}
	_, err = q.conn.ExecContext(ctx, "UPDATE dead_letters SET resolved_at = ?, resolved_by = ?, error = ? WHERE id = ?",
		formatTime(ids.Now()), resolvedBy, errMsg, id)
	if err != nil {
		return conductorerrors.Wrap(err, "dlq: resolve")
	}
	return nil
}

// CanRetry reports whether a dead letter is eligible for replay: not yet
// resolved and strictly under its retry budget.
func (q *Queue) CanRetry(ctx context.Context, id string) (bool, error) {
	dl, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if dl == nil {
		return false, &conductorerrors.NotFoundError{Resource: "dead_letter", ID: id}
	}
	if dl.ResolvedAt != nil {
		return false, nil
	}
	return dl.RetryCount < dl.MaxRetries, nil
}

// CountUnresolved returns the number of dead letters still awaiting
// resolution.
func (q *Queue) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	if err := q.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL").Scan(&n); err != nil {
		return 0, conductorerrors.Wrap(err, "dlq: count unresolved")
	}
	return n, nil
}

const selectSQL = `
	SELECT id, execution_id, workflow, params, error, retry_count, max_retries, created_at, last_retry_at, resolved_at, resolved_by
	FROM dead_letters`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(s rowScanner) (*DeadLetter, error) {
	var dl DeadLetter
	var params, lastRetryAt, resolvedAt, resolvedBy sql.NullString
	var createdAt string

	err := s.Scan(&dl.ID, &dl.ExecutionID, &dl.Workflow, &params, &dl.Error, &dl.RetryCount, &dl.MaxRetries,
		&createdAt, &lastRetryAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	dl.ResolvedBy = resolvedBy.String
	if params.Valid {
		_ = json.Unmarshal([]byte(params.String), &dl.Params)
	}
	if lastRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastRetryAt.String)
		dl.LastRetryAt = &t
	}
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
		dl.ResolvedAt = &t
	}
	return &dl, nil
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

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
