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

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/conductor-core/conductor/internal/dispatcher"
	"github.com/conductor-core/conductor/internal/runtime"
	"github.com/conductor-core/conductor/internal/storage"
)

// StorageCheck pings the backing connection. Required: a dead storage
// layer means the whole runtime is unhealthy, not merely degraded.
func StorageCheck(conn storage.Conn) Check {
	return Check{
		Name:     "storage",
		Required: true,
		Fn: func(ctx context.Context) error {
			return conn.PingContext(ctx)
		},
	}
}

// AdapterCheck wraps a single runtime.Adapter's own Health call. Adapters
// are registered as required unless the caller overrides it, since a
// missing default runtime leaves the job engine unable to dispatch at all.
func AdapterCheck(a runtime.Adapter, required bool) Check {
	return Check{
		Name:     "runtime:" + a.Name(),
		Required: required,
		Fn: func(ctx context.Context) error {
			status, err := a.Health(ctx)
			if err != nil {
				return err
			}
			if !status.Healthy {
				if status.Message != "" {
					return fmt.Errorf("%s", status.Message)
				}
				return fmt.Errorf("adapter reports unhealthy")
			}
			return nil
		},
	}
}

// DispatcherCheck reports unhealthy when the dispatcher's last heartbeat is
// older than staleAfter, which catches a worker loop that has wedged
// without crashing the process.
func DispatcherCheck(d *dispatcher.Dispatcher, staleAfter time.Duration) Check {
	return Check{
		Name:     "dispatcher",
		Required: true,
		Fn: func(ctx context.Context) error {
			stats := d.Stats()
			if stats.LastHeartbeat.IsZero() {
				return fmt.Errorf("dispatcher has not completed a poll cycle yet")
			}
			if age := time.Since(stats.LastHeartbeat); age > staleAfter {
				return fmt.Errorf("last heartbeat %s ago exceeds %s threshold", age.Round(time.Second), staleAfter)
			}
			return nil
		},
	}
}
