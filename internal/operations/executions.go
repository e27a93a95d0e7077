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

	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/runtime"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// ListExecutions is a paginated listing over the ledger's filter.
func (f *Facade) ListExecutions(ctx context.Context, filter ledger.Filter) OperationResult[PagedResult[*ledger.Execution]] {
	return run(func() (PagedResult[*ledger.Execution], error) {
		execs, total, err := f.Ledger.ListExecutions(ctx, filter)
		if err != nil {
			return PagedResult[*ledger.Execution]{}, err
		}
		return PagedResult[*ledger.Execution]{Items: execs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
	})
}

// GetExecution fetches a single execution by id.
func (f *Facade) GetExecution(ctx context.Context, id string) OperationResult[*ledger.Execution] {
	return run(func() (*ledger.Execution, error) {
		exec, err := f.Ledger.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec == nil {
			return nil, &conductorerrors.NotFoundError{Resource: "execution", ID: id}
		}
		return exec, nil
	})
}

// SubmitExecution dispatches a job spec via the job engine.
func (f *Facade) SubmitExecution(ctx context.Context, opCtx OperationContext, spec runtime.ContainerJobSpec) OperationResult[*jobengineSubmitResult] {
	if result, skip := dryRunSkip[*jobengineSubmitResult](opCtx, nil); skip {
		return result
	}
	return run(func() (*jobengineSubmitResult, error) {
		res, err := f.Jobs.Submit(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &jobengineSubmitResult{
			ExecutionID: res.ExecutionID,
			ExternalRef: res.ExternalRef,
			Runtime:     res.Runtime,
			SpecHash:    res.SpecHash,
		}, nil
	})
}

// jobengineSubmitResult mirrors jobengine.SubmitResult; kept as a distinct
// type here so the facade's public surface doesn't leak an internal
// package's type into callers that only import operations.
type jobengineSubmitResult struct {
	ExecutionID string `json:"execution_id"`
	ExternalRef string `json:"external_ref"`
	Runtime     string `json:"runtime"`
	SpecHash    string `json:"spec_hash"`
}

// CancelExecution cancels a submitted job and records it in the ledger.
func (f *Facade) CancelExecution(ctx context.Context, opCtx OperationContext, id string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		return f.Jobs.Cancel(ctx, id)
	})
}

// RetryExecution resubmits a failed execution's spec as a new submission,
// recording the retry against the original in an execution event.
func (f *Facade) RetryExecution(ctx context.Context, opCtx OperationContext, id string) OperationResult[*ledger.Execution] {
	if result, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return result
	}
	return run(func() (*ledger.Execution, error) {
		exec, err := f.Ledger.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec == nil {
			return nil, &conductorerrors.NotFoundError{Resource: "execution", ID: id}
		}
		if !exec.Status.IsTerminal() || exec.Status == ledger.StatusCompleted {
			return nil, &conductorerrors.ConflictError{Resource: "execution", Reason: "only failed or cancelled executions can be retried"}
		}
		n, err := f.Ledger.IncrementRetry(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := f.Ledger.RecordEvent(ctx, id, ledger.EventRetried, map[string]any{"attempt": n}); err != nil {
			return nil, err
		}
		return f.Ledger.CreateExecution(ctx, &ledger.Execution{
			Workflow:          exec.Workflow,
			Params:            exec.Params,
			Lane:              exec.Lane,
			TriggerSource:     ledger.TriggerRetry,
			ParentExecutionID: exec.ID,
		})
	})
}

// GetExecutionEvents returns an execution's full event history.
func (f *Facade) GetExecutionEvents(ctx context.Context, id string) OperationResult[[]ledger.Event] {
	return run(func() ([]ledger.Event, error) {
		return f.Ledger.GetEvents(ctx, id)
	})
}

// GetExecutionLogs streams an execution's runtime-adapter logs.
func (f *Facade) GetExecutionLogs(ctx context.Context, id string) OperationResult[<-chan string] {
	return run(func() (<-chan string, error) {
		return f.Jobs.Logs(ctx, id)
	})
}
