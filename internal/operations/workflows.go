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

	"github.com/conductor-core/conductor/internal/workflow"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// ListWorkflows returns every registered workflow definition.
func (f *Facade) ListWorkflows(ctx context.Context) OperationResult[[]workflow.Workflow] {
	return run(func() ([]workflow.Workflow, error) {
		return f.Workflows.List(), nil
	})
}

// GetWorkflow looks up a single workflow definition by name.
func (f *Facade) GetWorkflow(ctx context.Context, name string) OperationResult[workflow.Workflow] {
	return run(func() (workflow.Workflow, error) {
		w, ok := f.Workflows.Get(name)
		if !ok {
			return workflow.Workflow{}, &conductorerrors.NotFoundError{Resource: "workflow", ID: name}
		}
		return w, nil
	})
}

// RunWorkflow plans and runs a registered workflow synchronously. The run
// record is created before planning; once the runner returns, one step
// record per planned step is written and the run is completed. If the
// runner returns an error the run is marked failed and no step records are
// written.
func (f *Facade) RunWorkflow(ctx context.Context, opCtx OperationContext, name string, params map[string]any) OperationResult[*workflow.RunResult] {
	if result, skip := dryRunSkip[*workflow.RunResult](opCtx, nil); skip {
		return result
	}
	return run(func() (*workflow.RunResult, error) {
		w, ok := f.Workflows.Get(name)
		if !ok {
			return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: name}
		}

		runRec, err := f.WorkflowStore.CreateRun(ctx, &workflow.RunRecord{Workflow: w.Name, Domain: w.Domain, TriggerSource: "api"})
		if err != nil {
			return nil, err
		}

		plan, err := f.Planner.Resolve(w, params, runRec.ID)
		if err != nil {
			return nil, err
		}

		// Dispatcher indexes MAP iterator steps by name for this one
		// workflow, so it and the Runner wrapping it are built fresh per
		// run rather than shared across every registered workflow.
		dispatcher := workflow.NewDispatcher(w.Steps, f.WorkflowPipeline, f.WorkflowLambdas)
		runner := workflow.NewRunner(dispatcher)

		wfCtx := workflow.NewContext(runRec.ID, w.Name, plan.Params, workflow.ExecutionRef{})
		result, err := runner.Run(ctx, plan, wfCtx)
		if err != nil {
			_ = f.WorkflowStore.CompleteRun(ctx, runRec.ID, workflow.RunFailed)
			return nil, err
		}

		for i, step := range plan.Steps {
			outcome := result.Steps[step.StepName]
			status := "completed"
			if !outcome.Success {
				status = "failed"
			}
			_ = f.WorkflowStore.RecordStep(ctx, &workflow.StepRecord{
				RunID: runRec.ID, StepName: step.StepName, StepType: step.Step.Type, Seq: i,
				Status: status, Attempt: 1, Error: outcome.Error, Output: outcome.Output,
			})
		}
		if err := f.WorkflowStore.CompleteRun(ctx, runRec.ID, result.Status); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// GetWorkflowSteps returns the durable step records for a run.
func (f *Facade) GetWorkflowSteps(ctx context.Context, runID string) OperationResult[[]*workflow.StepRecord] {
	return run(func() ([]*workflow.StepRecord, error) {
		return f.WorkflowStore.ListSteps(ctx, runID)
	})
}
