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

package operations

import (
	"context"
	"testing"

	"github.com/conductor-core/conductor/internal/alerts"
	"github.com/conductor-core/conductor/internal/dlq"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/manifest"
	"github.com/conductor-core/conductor/internal/scheduler"
	"github.com/conductor-core/conductor/internal/storage"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	led := ledger.New(conn)
	schedStore := scheduler.NewStore(conn)
	dlqQueue := dlq.New(conn)
	man := manifest.New(conn)
	alertStore := alerts.New(conn)

	return New(nil, led, schedStore, dlqQueue, man, alertStore)
}

func TestGetExecution_UnknownIDIsNotFound(t *testing.T) {
	f := newTestFacade(t)
	result := f.GetExecution(context.Background(), "missing")
	if result.Success {
		t.Fatalf("expected failure for unknown execution")
	}
	if result.Error.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", result.Error.Code)
	}
}

func TestWorkItemLifecycle_ClaimCompleteRoundTrip(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	exec, err := f.Ledger.CreateExecution(ctx, &ledger.Execution{Workflow: "task:ingest"})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	claimed := f.ClaimWorkItem(ctx, OperationContext{}, exec.ID)
	if !claimed.Success {
		t.Fatalf("expected claim to succeed: %+v", claimed.Error)
	}
	if claimed.Data.Status != ledger.StatusRunning {
		t.Fatalf("expected running status, got %s", claimed.Data.Status)
	}

	completed := f.CompleteWorkItem(ctx, OperationContext{}, exec.ID, map[string]any{"rows": 5})
	if !completed.Success {
		t.Fatalf("expected complete to succeed: %+v", completed.Error)
	}
	if completed.Data.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Data.Status)
	}
}

func TestWorkItem_DryRunSkipsMutation(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	exec, err := f.Ledger.CreateExecution(ctx, &ledger.Execution{Workflow: "task:ingest"})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	result := f.ClaimWorkItem(ctx, OperationContext{DryRun: true}, exec.ID)
	if !result.Success {
		t.Fatalf("expected dry-run to report success without error")
	}
	if result.Metadata["dry_run"] != true {
		t.Fatalf("expected dry_run metadata, got %+v", result.Metadata)
	}

	fresh, err := f.Ledger.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if fresh.Status != ledger.StatusPending {
		t.Fatalf("expected dry-run to leave status untouched, got %s", fresh.Status)
	}
}

func TestCountRejectsByReason_GroupsByFirstSegment(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	if _, err := f.DLQ.Add(ctx, "exec-1", "task:ingest", nil, "adapter timeout: container exited after 30s", 3); err != nil {
		t.Fatalf("add dead letter: %v", err)
	}
	if _, err := f.DLQ.Add(ctx, "exec-2", "task:ingest", nil, "adapter timeout: connection refused", 3); err != nil {
		t.Fatalf("add dead letter: %v", err)
	}
	if _, err := f.DLQ.Add(ctx, "exec-3", "task:export", nil, "validation failed: missing field", 3); err != nil {
		t.Fatalf("add dead letter: %v", err)
	}

	result := f.CountRejectsByReason(ctx)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result.Error)
	}
	counts := make(map[string]int)
	for _, rc := range result.Data {
		counts[rc.Reason] = rc.Count
	}
	if counts["adapter timeout"] != 2 {
		t.Fatalf("expected 2 adapter timeout rejects, got %+v", counts)
	}
	if counts["validation failed"] != 1 {
		t.Fatalf("expected 1 validation failed reject, got %+v", counts)
	}
}
