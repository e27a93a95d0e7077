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

// Package manifest tracks per-partition progress through an ordered stage
// list, enabling idempotent restarts: a stage that has already run is never
// silently re-run because of is_at_least.
package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Entry is a single row of a partition's stage history. Multiple entries
// can exist for the same (domain, partition_key) at different ranks;
// the highest rank wins for is_at_least.
type Entry struct {
	ID           string
	Domain       string
	PartitionKey string
	Stage        string
	StageRank    int
	RowCount     int64
	Metrics      map[string]any
	UpdatedAt    time.Time
}

// Manifest is the storage-backed work manifest.
type Manifest struct {
	conn storage.Conn
}

// New wraps an open storage.Conn as a Manifest.
func New(conn storage.Conn) *Manifest {
	return &Manifest{conn: conn}
}

// Advance records that a partition has reached stage at rank, inserting a
// new row rather than updating in place so history is never lost. Calling
// Advance again with the same or a lower rank is a no-op observed through
// IsAtLeast (the max rank always wins) but still appends a row — this
// package never deletes, only the retention purge does.
func (m *Manifest) Advance(ctx context.Context, domain, partitionKey, stage string, rank int, rowCount int64, metrics map[string]any) (*Entry, error) {
	e := &Entry{
		ID:           ids.NewExecutionID(),
		Domain:       domain,
		PartitionKey: partitionKey,
		Stage:        stage,
		StageRank:    rank,
		RowCount:     rowCount,
		Metrics:      metrics,
		UpdatedAt:    ids.Now(),
	}
	metricsJSON, err := marshalJSON(e.Metrics)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "manifest: marshal metrics")
	}
	_, err = m.conn.ExecContext(ctx, `
		INSERT INTO manifest (id, domain, partition_key, stage, stage_rank, row_count, metrics, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Domain, e.PartitionKey, e.Stage, e.StageRank, e.RowCount, nullString(metricsJSON), formatTime(e.UpdatedAt))
	if err != nil {
		return nil, conductorerrors.Wrap(err, "manifest: insert")
	}
	return e, nil
}

// IsAtLeast returns true iff a partition has an entry at or above rank.
func (m *Manifest) IsAtLeast(ctx context.Context, domain, partitionKey string, rank int) (bool, error) {
	var max sql.NullInt64
	err := m.conn.QueryRowContext(ctx,
		"SELECT MAX(stage_rank) FROM manifest WHERE domain = ? AND partition_key = ?",
		domain, partitionKey).Scan(&max)
	if err != nil {
		return false, conductorerrors.Wrap(err, "manifest: is at least")
	}
	return max.Valid && max.Int64 >= int64(rank), nil
}

// Current returns the highest-rank entry for a partition, or (nil, nil) if
// the partition has no history yet.
func (m *Manifest) Current(ctx context.Context, domain, partitionKey string) (*Entry, error) {
	row := m.conn.QueryRowContext(ctx, `
		SELECT id, domain, partition_key, stage, stage_rank, row_count, metrics, updated_at
		FROM manifest WHERE domain = ? AND partition_key = ?
		ORDER BY stage_rank DESC LIMIT 1`, domain, partitionKey)
	e, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// History returns every entry ever recorded for a partition, oldest first.
func (m *Manifest) History(ctx context.Context, domain, partitionKey string) ([]*Entry, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT id, domain, partition_key, stage, stage_rank, row_count, metrics, updated_at
		FROM manifest WHERE domain = ? AND partition_key = ?
		ORDER BY updated_at ASC`, domain, partitionKey)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "manifest: history")
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, rows.Err()
}

// ResetTo records a reset of a partition to stage/rank. It does not delete
// later-stage rows; it appends a new row at rank marked {"reset": true}, so
// audit history is preserved. IsAtLeast and Current keep reading the max
// rank, so a reset to a rank below the current maximum does not change
// what they report.
func (m *Manifest) ResetTo(ctx context.Context, domain, partitionKey, stage string, rank int) (*Entry, error) {
	return m.Advance(ctx, domain, partitionKey, stage, rank, 0, map[string]any{"reset": true})
}

func scan(s interface{ Scan(dest ...any) error }) (*Entry, error) {
	var e Entry
	var metrics sql.NullString
	var updatedAt string
	if err := s.Scan(&e.ID, &e.Domain, &e.PartitionKey, &e.Stage, &e.StageRank, &e.RowCount, &metrics, &updatedAt); err != nil {
		return nil, err
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if metrics.Valid {
		_ = json.Unmarshal([]byte(metrics.String), &e.Metrics)
	}
	return &e, nil
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
