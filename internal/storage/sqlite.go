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
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

func openSQLiteMemory() (Conn, Info, error) {
	// A shared-cache DSN keeps the in-memory database alive across the
	// connection pool instead of handing each connection its own empty copy.
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, Info{}, fmt.Errorf("storage: open in-memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &conn{db: db, driver: DriverSQLite}
	if err := initSQLite(c, false); err != nil {
		db.Close()
		return nil, Info{}, err
	}
	return c, Info{Driver: DriverSQLite, ResolvedPath: ":memory:", Persistent: false}, nil
}

func openSQLiteFile(path string) (Conn, Info, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("storage: open sqlite %q: %w", path, err)
	}
	// SQLite serializes writes; one connection avoids SQLITE_BUSY thrash
	// under the process's own connection pool.
	db.SetMaxOpenConns(1)

	c := &conn{db: db, driver: DriverSQLite}
	if err := initSQLite(c, true); err != nil {
		db.Close()
		return nil, Info{}, err
	}
	return c, Info{Driver: DriverSQLite, ResolvedPath: path, Persistent: true}, nil
}

func initSQLite(c *conn, wal bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := c.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("storage: pragma %q: %w", p, err)
		}
	}

	return migrate(ctx, c)
}
