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

// Package concurrency implements named leases ("concurrency_locks") used to
// serialize access to a critical section by key — schedule instances,
// partition processing, anything that must not run twice at once.
package concurrency

import (
	"context"
	"database/sql"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Guard acquires, releases, extends, and reaps named leases.
type Guard struct {
	conn storage.Conn
}

// New wraps an open storage.Conn as a Guard.
func New(conn storage.Conn) *Guard {
	return &Guard{conn: conn}
}

// Acquire attempts to take lock_key for owner_id with the given TTL.
// Acquisition is atomic: either no row exists (or the existing lease has
// expired) and the insert/replace succeeds, or an unexpired lease stands
// and Acquire returns false without mutating anything.
func (g *Guard) Acquire(ctx context.Context, lockKey, ownerID string, ttl time.Duration) (bool, error) {
	tx, err := storage.Begin(ctx, g.conn, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Tx.Rollback()
		}
	}()

	now := ids.Now()
	var expiresAtStr string
	err = tx.QueryRowContext(ctx, "SELECT expires_at FROM concurrency_locks WHERE lock_key = ?", lockKey).Scan(&expiresAtStr)
	switch {
	case err == sql.ErrNoRows:
		// No holder: insert fresh.
	case err != nil:
		return false, conductorerrors.Wrap(err, "concurrency: read lease")
	default:
		expiresAt, _ := time.Parse(time.RFC3339Nano, expiresAtStr)
		if expiresAt.After(now) {
			return false, nil
		}
		// Expired lease: delete before re-inserting so the unique
		// primary key on lock_key does not reject the claim.
		if _, err := tx.ExecContext(ctx, "DELETE FROM concurrency_locks WHERE lock_key = ?", lockKey); err != nil {
			return false, conductorerrors.Wrap(err, "concurrency: clear expired lease")
		}
	}

	expiresAt := now.Add(ttl)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO concurrency_locks (lock_key, execution_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		lockKey, ownerID, now.Format(time.RFC3339Nano), expiresAt.Format(time.RFC3339Nano))
	if err != nil {
		// A concurrent acquirer won the race between our SELECT and
		// INSERT; the unique constraint on lock_key rejects us.
		return false, nil
	}

	if err := tx.Tx.Commit(); err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: commit acquire")
	}
	committed = true
	return true, nil
}

// Release drops lock_key only if ownerID currently holds it.
func (g *Guard) Release(ctx context.Context, lockKey, ownerID string) (bool, error) {
	res, err := g.conn.ExecContext(ctx, "DELETE FROM concurrency_locks WHERE lock_key = ? AND execution_id = ?", lockKey, ownerID)
	if err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: release")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: release rows affected")
	}
	return n > 0, nil
}

// Extend updates only expires_at, provided ownerID still holds the lease.
func (g *Guard) Extend(ctx context.Context, lockKey, ownerID string, ttl time.Duration) (bool, error) {
	expiresAt := ids.Now().Add(ttl).Format(time.RFC3339Nano)
	res, err := g.conn.ExecContext(ctx, "UPDATE concurrency_locks SET expires_at = ? WHERE lock_key = ? AND execution_id = ?", expiresAt, lockKey, ownerID)
	if err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: extend")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: extend rows affected")
	}
	return n > 0, nil
}

// IsHeld reports whether lock_key currently has an unexpired lease.
func (g *Guard) IsHeld(ctx context.Context, lockKey string) (bool, error) {
	var expiresAtStr string
	err := g.conn.QueryRowContext(ctx, "SELECT expires_at FROM concurrency_locks WHERE lock_key = ?", lockKey).Scan(&expiresAtStr)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, conductorerrors.Wrap(err, "concurrency: is held")
	}
	expiresAt, _ := time.Parse(time.RFC3339Nano, expiresAtStr)
	return expiresAt.After(ids.Now()), nil
}

// ReapExpired deletes every lease whose expires_at has passed and returns
// how many were removed. Calling it repeatedly with no new expirations is a
// no-op (idempotent).
func (g *Guard) ReapExpired(ctx context.Context) (int, error) {
	res, err := g.conn.ExecContext(ctx, "DELETE FROM concurrency_locks WHERE expires_at <= ?", ids.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, conductorerrors.Wrap(err, "concurrency: reap expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, conductorerrors.Wrap(err, "concurrency: reap rows affected")
	}
	return int(n), nil
}
