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
	"net/url"
	"time"

	_ "github.com/lib/pq"
)

func openPostgres(dsn string) (Conn, Info, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, Info{}, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Info{}, fmt.Errorf("storage: ping postgres: %w", err)
	}

	c := &conn{db: db, driver: DriverPostgres}
	if err := migrate(ctx, c); err != nil {
		db.Close()
		return nil, Info{}, err
	}

	return c, Info{Driver: DriverPostgres, ResolvedPath: redactDSN(dsn), Persistent: true}, nil
}

// redactDSN strips user info from a postgres URL before it ever reaches a
// log line or error message.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://<redacted>"
	}
	u.User = nil
	return u.String()
}
