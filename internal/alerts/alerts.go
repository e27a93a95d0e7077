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

// Package alerts stores alert channels (where notifications are delivered)
// and the alerts raised against them, backing the Operations Facade's
// alert-channel and alert operations.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Channel is a named destination for alert delivery (e.g. a Slack webhook
// or an email distribution list); Config carries channel-kind-specific
// settings and is opaque to this package.
type Channel struct {
	ID        string
	Name      string
	Kind      string
	Config    map[string]any
	Enabled   bool
	CreatedAt time.Time
}

// Severity classifies how urgently an alert needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one raised notification, optionally tied to a channel.
type Alert struct {
	ID               string
	ChannelID        string
	Severity         Severity
	Message          string
	Context          map[string]any
	CreatedAt        time.Time
	AcknowledgedAt   *time.Time
	AcknowledgedBy   string
}

// Store is the storage-backed alert channel and alert registry.
type Store struct {
	conn storage.Conn
}

// New wraps an open storage.Conn as a Store.
func New(conn storage.Conn) *Store {
	return &Store{conn: conn}
}

// CreateChannel registers a new alert channel.
func (s *Store) CreateChannel(ctx context.Context, ch *Channel) (*Channel, error) {
	if ch.ID == "" {
		ch.ID = ids.NewExecutionID()
	}
	ch.CreatedAt = ids.Now()
	cfgJSON, err := marshalJSON(ch.Config)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: marshal channel config")
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO alert_channels (id, name, kind, config, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Kind, nullString(cfgJSON), boolToInt(ch.Enabled), formatTime(ch.CreatedAt))
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: create channel")
	}
	return ch, nil
}

// ListChannels returns every registered alert channel.
func (s *Store) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, kind, config, enabled, created_at FROM alert_channels ORDER BY name`)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: list channels")
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var ch Channel
		var cfg sql.NullString
		var enabled int
		var createdAt string
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Kind, &cfg, &enabled, &createdAt); err != nil {
			return nil, err
		}
		ch.Enabled = enabled != 0
		ch.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if cfg.Valid {
			_ = json.Unmarshal([]byte(cfg.String), &ch.Config)
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// Raise records a new alert, optionally against a channel.
func (s *Store) Raise(ctx context.Context, a *Alert) (*Alert, error) {
	if a.ID == "" {
		a.ID = ids.NewExecutionID()
	}
	a.CreatedAt = ids.Now()
	ctxJSON, err := marshalJSON(a.Context)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: marshal alert context")
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO alerts (id, channel_id, severity, message, context, created_at, acknowledged_at, acknowledged_by)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)`,
		a.ID, nullString(a.ChannelID), string(a.Severity), a.Message, nullString(ctxJSON), formatTime(a.CreatedAt))
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: raise")
	}
	return a, nil
}

// ListUnacknowledged returns alerts still awaiting acknowledgement, newest first.
func (s *Store) ListUnacknowledged(ctx context.Context, limit, offset int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, channel_id, severity, message, context, created_at, acknowledged_at, acknowledged_by
		FROM alerts WHERE acknowledged_at IS NULL ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "alerts: list unacknowledged")
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// Acknowledge is a one-way transition marking an alert handled.
func (s *Store) Acknowledge(ctx context.Context, id, by string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE alerts SET acknowledged_at = ?, acknowledged_by = ? WHERE id = ? AND acknowledged_at IS NULL`,
		formatTime(ids.Now()), by, id)
	if err != nil {
		return conductorerrors.Wrap(err, "alerts: acknowledge")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return conductorerrors.Wrap(err, "alerts: acknowledge rows affected")
	}
	if n == 0 {
		return &conductorerrors.ConflictError{Resource: "alert", Reason: "already acknowledged or not found"}
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]*Alert, error) {
	var out []*Alert
	for rows.Next() {
		var a Alert
		var channelID, ctxData, ackAt, ackBy sql.NullString
		var severity, createdAt string
		if err := rows.Scan(&a.ID, &channelID, &severity, &a.Message, &ctxData, &createdAt, &ackAt, &ackBy); err != nil {
			return nil, err
		}
		a.ChannelID = channelID.String
		a.Severity = Severity(severity)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		a.AcknowledgedBy = ackBy.String
		if ctxData.Valid {
			_ = json.Unmarshal([]byte(ctxData.String), &a.Context)
		}
		if ackAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, ackAt.String)
			a.AcknowledgedAt = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
