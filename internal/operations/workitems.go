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

// Work items are the operations-facade name for ledger executions viewed as
// units of manual intervention: an operator listing, claiming, completing,
// failing or cancelling one directly, bypassing the dispatcher's own
// automatic claim loop. The dispatcher's poll/claim/run path (internal to
// internal/dispatcher) is unaffected by these calls; they exist for
// operator-driven recovery, not for the normal happy path.
package operations

import (
	"context"

	"github.com/conductor-core/conductor/internal/ledger"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// ListWorkItems is an alias over ListExecutions, named per the work-item
// vocabulary the facade's recognized operations use.
func (f *Facade) ListWorkItems(ctx context.Context, filter ledger.Filter) OperationResult[PagedResult[*ledger.Execution]] {
	return f.ListExecutions(ctx, filter)
}

// ClaimWorkItem transitions a pending/queued execution to running outside
// the dispatcher's own poll loop, for operator tooling that needs to pull a
// specific item rather than wait for the next poll.
func (f *Facade) ClaimWorkItem(ctx context.Context, opCtx OperationContext, id string) OperationResult[*ledger.Execution] {
	if result, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return result
	}
	return run(func() (*ledger.Execution, error) {
		return f.transitionWorkItem(ctx, id, ledger.StatusRunning, nil, "")
	})
}

// CompleteWorkItem marks an execution completed with the given result.
func (f *Facade) CompleteWorkItem(ctx context.Context, opCtx OperationContext, id string, result map[string]any) OperationResult[*ledger.Execution] {
	if r, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return r
	}
	return run(func() (*ledger.Execution, error) {
		return f.transitionWorkItem(ctx, id, ledger.StatusCompleted, result, "")
	})
}

// FailWorkItem marks an execution failed with the given message.
func (f *Facade) FailWorkItem(ctx context.Context, opCtx OperationContext, id, message string) OperationResult[*ledger.Execution] {
	if r, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return r
	}
	return run(func() (*ledger.Execution, error) {
		return f.transitionWorkItem(ctx, id, ledger.StatusFailed, nil, message)
	})
}

// CancelWorkItem cancels an execution directly through the ledger, without
// going through the job engine's adapter-cancel path; use this only for
// executions that were never dispatched to a runtime (e.g. still pending).
func (f *Facade) CancelWorkItem(ctx context.Context, opCtx OperationContext, id string) OperationResult[*ledger.Execution] {
	if r, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return r
	}
	return run(func() (*ledger.Execution, error) {
		return f.transitionWorkItem(ctx, id, ledger.StatusCancelled, nil, "")
	})
}

func (f *Facade) transitionWorkItem(ctx context.Context, id string, to ledger.Status, result map[string]any, errMsg string) (*ledger.Execution, error) {
	exec, err := f.Ledger.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, &conductorerrors.NotFoundError{Resource: "work_item", ID: id}
	}
	if err := f.Ledger.UpdateStatus(ctx, id, to, result, errMsg); err != nil {
		return nil, err
	}
	return f.Ledger.GetExecution(ctx, id)
}
