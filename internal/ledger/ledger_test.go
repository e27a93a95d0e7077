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

package ledger

import (
	"context"
	"testing"

	"github.com/conductor-core/conductor/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

func TestCreateExecution_InsertsCreatedEvent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	exec, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if exec.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", exec.Status)
	}

	events, err := l.GetEvents(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventCreated {
		t.Fatalf("expected exactly one created event, got %+v", events)
	}
}

func TestCreateExecution_IdempotencyKeyDedup(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	second, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected identical execution id for duplicate idempotency key, got %s and %s", first.ID, second.ID)
	}

	_, total, err := l.ListExecutions(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one row for deduplicated submissions, got %d", total)
	}
}

func TestUpdateStatus_EventChronology(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	exec, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.UpdateStatus(ctx, exec.ID, StatusRunning, nil, ""); err != nil {
		t.Fatalf("-> running: %v", err)
	}
	if err := l.UpdateStatus(ctx, exec.ID, StatusCompleted, map[string]any{"echoed": "hi"}, ""); err != nil {
		t.Fatalf("-> completed: %v", err)
	}

	events, err := l.GetEvents(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	want := []EventType{EventCreated, EventStarted, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
		if i > 0 && ev.Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events out of chronological order at index %d", i)
		}
	}

	got, err := l.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected started_at and completed_at to be set")
	}
}

func TestUpdateStatus_RejectsIllegalTransition(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	exec, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.UpdateStatus(ctx, exec.ID, StatusRunning, nil, ""); err != nil {
		t.Fatalf("-> running: %v", err)
	}
	if err := l.UpdateStatus(ctx, exec.ID, StatusCompleted, nil, ""); err != nil {
		t.Fatalf("-> completed: %v", err)
	}
	if err := l.UpdateStatus(ctx, exec.ID, StatusRunning, nil, ""); err == nil {
		t.Fatalf("expected completed -> running to be rejected")
	}
}

func TestIncrementRetry(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	exec, err := l.CreateExecution(ctx, &Execution{Workflow: "task:echo", TriggerSource: TriggerAPI})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i <= 3; i++ {
		got, err := l.IncrementRetry(ctx, exec.ID)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != i {
			t.Fatalf("expected retry count %d, got %d", i, got)
		}
	}
}

func TestListExecutions_FiltersByWorkflow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, wf := range []string{"task:a", "task:b", "task:a"} {
		if _, err := l.CreateExecution(ctx, &Execution{Workflow: wf, TriggerSource: TriggerAPI}); err != nil {
			t.Fatalf("create %s: %v", wf, err)
		}
	}

	results, total, err := l.ListExecutions(ctx, Filter{Workflow: "task:a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Fatalf("expected 2 task:a executions, got total=%d len=%d", total, len(results))
	}
}
