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

package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conductor-core/conductor/internal/handler"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/storage"
)

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *ledger.Ledger, storage.Conn) {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	led := ledger.New(conn)
	reg := handler.New()
	reg.RegisterTask("echo", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"echoed": params}, nil
	})
	return New(conn, led, reg, cfg), led, conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestDispatcher_SubmitClaimComplete exercises end-to-end scenario 1: a
// registered task handler runs to completion with the expected event
// sequence within a bounded time window.
func TestDispatcher_SubmitClaimComplete(t *testing.T) {
	d, led, _ := newTestDispatcher(t, Config{PollInterval: 50 * time.Millisecond, MaxConcurrency: 1, BatchSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec, err := led.CreateExecution(ctx, &ledger.Execution{Workflow: "task:echo", Params: map[string]any{"msg": "hi"}, TriggerSource: ledger.TriggerAPI})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	d.Start(ctx)
	defer d.Stop()

	waitFor(t, time.Second, func() bool {
		got, err := led.GetExecution(ctx, exec.ID)
		return err == nil && got != nil && got.Status == ledger.StatusCompleted
	})

	got, err := led.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if echoed, _ := got.Result["echoed"].(map[string]any); echoed == nil || echoed["msg"] != "hi" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}

	events, err := led.GetEvents(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	want := []ledger.EventType{ledger.EventCreated, ledger.EventStarted, ledger.EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}
}

func TestDispatcher_UnknownHandlerFails(t *testing.T) {
	d, led, _ := newTestDispatcher(t, Config{PollInterval: 30 * time.Millisecond, MaxConcurrency: 1, BatchSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec, err := led.CreateExecution(ctx, &ledger.Execution{Workflow: "task:missing", TriggerSource: ledger.TriggerAPI})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d.Start(ctx)
	defer d.Stop()

	waitFor(t, time.Second, func() bool {
		got, err := led.GetExecution(ctx, exec.ID)
		return err == nil && got != nil && got.Status == ledger.StatusFailed
	})
}

// TestClaim_DisjointAcrossConcurrentPollers exercises the claim-exclusivity
// property directly: concurrent claim calls against the same pending set
// never both win the same row.
func TestClaim_DisjointAcrossConcurrentPollers(t *testing.T) {
	d, led, _ := newTestDispatcher(t, DefaultConfig)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		exec, err := led.CreateExecution(ctx, &ledger.Execution{Workflow: "task:echo", TriggerSource: ledger.TriggerAPI})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, exec.ID)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := d.claim(ctx, 20)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			for _, id := range claimed {
				seen[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("execution %s claimed %d times, expected exactly 1", id, count)
		}
		total++
	}
	if total != len(ids) {
		t.Fatalf("expected all %d executions claimed exactly once, got %d", len(ids), total)
	}
}
