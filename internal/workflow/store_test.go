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

package workflow

import (
	"context"
	"testing"

	"github.com/conductor-core/conductor/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func TestStore_CreateAndCompleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRun(ctx, &RunRecord{Workflow: "daily_refresh", TriggerSource: "schedule"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if rec.Status != RunRunning {
		t.Fatalf("expected running status, got %s", rec.Status)
	}

	if err := s.CompleteRun(ctx, rec.ID, RunCompleted); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, err := s.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestStore_RecordStepUpsertsByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec, _ := s.CreateRun(ctx, &RunRecord{Workflow: "wf", TriggerSource: "api"})

	if err := s.RecordStep(ctx, &StepRecord{RunID: rec.ID, StepName: "fetch", StepType: StepPipeline, Seq: 0, Status: "running", Attempt: 1}); err != nil {
		t.Fatalf("record step: %v", err)
	}
	if err := s.RecordStep(ctx, &StepRecord{RunID: rec.ID, StepName: "fetch", StepType: StepPipeline, Seq: 0, Status: "completed", Attempt: 1, Output: map[string]any{"rows": 10}}); err != nil {
		t.Fatalf("record step update: %v", err)
	}

	steps, err := s.ListSteps(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step row after upsert, got %d", len(steps))
	}
	if steps[0].Status != "completed" {
		t.Fatalf("expected completed status, got %s", steps[0].Status)
	}
	if steps[0].Output["rows"] != float64(10) {
		t.Fatalf("expected output to round-trip, got %+v", steps[0].Output)
	}
}

func TestStore_ListRunsFiltersByWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRun(ctx, &RunRecord{Workflow: "a", TriggerSource: "api"}); err != nil {
		t.Fatalf("create run a: %v", err)
	}
	if _, err := s.CreateRun(ctx, &RunRecord{Workflow: "b", TriggerSource: "api"}); err != nil {
		t.Fatalf("create run b: %v", err)
	}

	runs, err := s.ListRuns(ctx, "a", 10, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Workflow != "a" {
		t.Fatalf("expected 1 run for workflow a, got %+v", runs)
	}
}
