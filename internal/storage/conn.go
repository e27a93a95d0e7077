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

// Package storage provides the narrow database contract the ledger and its
// siblings are built on, plus a URL-routed factory that opens the right
// backend (in-memory SQLite, file-backed SQLite, or networked Postgres).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Driver identifies the backend a Connection is speaking to. Query text
// differs only in placeholder style and a handful of type names, so callers
// write driver-agnostic SQL with '?' placeholders and let Rebind translate it.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Querier is the minimal set of operations the ledger and its siblings need
// against either a *sql.DB or a *sql.Tx. It mirrors the spec's narrow
// "execute / executemany / fetchone / fetchall" contract: ExecContext covers
// execute and executemany (a single statement with N args, called in a loop,
// satisfies "executemany" without a distinct verb), QueryRowContext is
// fetchone, QueryContext is fetchall.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a Querier that can also open transactions and report its own
// driver, so callers can Rebind placeholders without tracking it separately.
type Conn interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Driver() Driver
	PingContext(ctx context.Context) error
	Close() error
}

// Info describes the resolved connection for logging/diagnostics.
type Info struct {
	Driver       Driver
	ResolvedPath string // file path or DSN, secrets-free
	Persistent   bool   // false for in-memory SQLite
}

type conn struct {
	db     *sql.DB
	driver Driver
}

func (c *conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.rebind(query), args...)
}

func (c *conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

func (c *conn) Driver() Driver { return c.driver }
func (c *conn) Close() error   { return c.db.Close() }
func (c *conn) PingContext(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *conn) rebind(query string) string {
	return Rebind(c.driver, query)
}

// Rebind rewrites '?' positional placeholders into the driver's native
// style. SQLite accepts '?' natively; Postgres (via lib/pq) requires '$1',
// '$2', ... This lets every package above storage write one query string.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TxQuerier adapts *sql.Tx to Querier so callers can run the same statements
// inside a transaction or directly against a Conn.
type TxQuerier struct {
	Tx     *sql.Tx
	driver Driver
}

func (t *TxQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.Tx.ExecContext(ctx, Rebind(t.driver, query), args...)
}

func (t *TxQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.Tx.QueryContext(ctx, Rebind(t.driver, query), args...)
}

func (t *TxQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.Tx.QueryRowContext(ctx, Rebind(t.driver, query), args...)
}

// Begin opens a TxQuerier bound to the same driver as conn, so statements
// rebind consistently whether run inside or outside the transaction.
func Begin(ctx context.Context, c Conn, opts *sql.TxOptions) (*TxQuerier, error) {
	tx, err := c.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &TxQuerier{Tx: tx, driver: c.Driver()}, nil
}

// Open routes a connection URL to the right backend:
//   - "memory" or "" -> in-memory SQLite (non-persistent, process-lifetime)
//   - a bare file path or "sqlite:///path" -> file-backed SQLite with WAL
//   - "postgres://..." or "postgresql://..." -> networked Postgres via lib/pq
func Open(dsn string) (Conn, Info, error) {
	switch {
	case dsn == "" || dsn == "memory" || dsn == ":memory:":
		return openSQLiteMemory()
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openPostgres(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		return openSQLiteFile(path)
	default:
		if _, err := url.Parse(dsn); err != nil {
			return nil, Info{}, fmt.Errorf("storage: invalid connection url %q: %w", dsn, err)
		}
		return openSQLiteFile(dsn)
	}
}

// OpenContext is like Open and then pings the connection under ctx (bounded
// to 5 seconds), closing it if that ping fails. The ping and migration Open
// itself runs do not use ctx.
func OpenContext(ctx context.Context, dsn string) (Conn, Info, error) {
	c, info, err := Open(dsn)
	if err != nil {
		return nil, Info{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.PingContext(pingCtx); err != nil {
		c.Close()
		return nil, Info{}, fmt.Errorf("storage: connect: %w", err)
	}
	return c, info, nil
}
