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

	"github.com/conductor-core/conductor/internal/storage"
	"github.com/conductor-core/conductor/internal/workflow"
)

type stubPipelineRunnable struct{}

func (stubPipelineRunnable) Run(ctx context.Context, step workflow.PlannedStep, wfCtx workflow.Context) workflow.StepResult {
	return workflow.Ok(map[string]any{"step": step.StepName})
}

func newWorkflowFacade(t *testing.T) *Facade {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	registry := workflow.NewRegistry()
	registry.Register(workflow.Workflow{
		Name: "ingest", Domain: "test",
		Steps: []workflow.Step{{Name: "fetch", Type: workflow.StepPipeline, Pipeline: "fetch"}},
	})
	registry.Register(workflow.Workflow{
		Name: "reconcile", Domain: "test",
		Steps: []workflow.Step{
			{Name: "load", Type: workflow.StepPipeline, Pipeline: "load"},
			{Name: "verify", Type: workflow.StepPipeline, Pipeline: "verify", DependsOn: []string{"load"}},
		},
	})

	planner := workflow.NewPlanner(nil)
	f := New(nil, nil, nil, nil, nil, nil)
	f.WithWorkflowRuntime(registry, planner, stubPipelineRunnable{}, nil, workflow.NewStore(conn))
	return f
}

// TestRunWorkflow_DifferentWorkflowsDoNotShareDispatcherState runs two
// distinct registered workflows through the same Facade back to back, which
// would resolve the wrong step names out of a Dispatcher's StepIndex if that
// Dispatcher were built once and shared across every RunWorkflow call
// instead of fresh per run.
func TestRunWorkflow_DifferentWorkflowsDoNotShareDispatcherState(t *testing.T) {
	f := newWorkflowFacade(t)
	ctx := context.Background()
	opCtx := OperationContext{CallerID: "test"}

	ingestResult := f.RunWorkflow(ctx, opCtx, "ingest", nil)
	if !ingestResult.Success {
		t.Fatalf("ingest run failed: %+v", ingestResult.Error)
	}
	if _, ok := ingestResult.Data.Steps["fetch"]; !ok {
		t.Fatalf("expected ingest run to have executed step fetch, got %+v", ingestResult.Data.Steps)
	}

	reconcileResult := f.RunWorkflow(ctx, opCtx, "reconcile", nil)
	if !reconcileResult.Success {
		t.Fatalf("reconcile run failed: %+v", reconcileResult.Error)
	}
	if len(reconcileResult.Data.Steps) != 2 {
		t.Fatalf("expected reconcile run to have executed 2 steps, got %+v", reconcileResult.Data.Steps)
	}
	if _, ok := reconcileResult.Data.Steps["load"]; !ok {
		t.Fatalf("expected reconcile run to have executed step load, got %+v", reconcileResult.Data.Steps)
	}
	if _, ok := reconcileResult.Data.Steps["verify"]; !ok {
		t.Fatalf("expected reconcile run to have executed step verify, got %+v", reconcileResult.Data.Steps)
	}
}

func TestRunWorkflow_UnknownNameReturnsNotFound(t *testing.T) {
	f := newWorkflowFacade(t)
	result := f.RunWorkflow(context.Background(), OperationContext{}, "missing", nil)
	if result.Success {
		t.Fatalf("expected failure for unknown workflow")
	}
	if result.Error.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", result.Error.Code)
	}
}
