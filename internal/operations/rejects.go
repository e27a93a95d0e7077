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

// Rejects are the operations-facade name for dead letters: work the
// dispatcher gave up retrying. This file maps "list rejects" / "count
// rejects by reason" onto the DLQ store.
package operations

import (
	"context"
	"strings"

	"github.com/conductor-core/conductor/internal/dlq"
	"github.com/conductor-core/conductor/internal/ledger"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// ListRejects lists dead letters, optionally restricted to unresolved ones.
func (f *Facade) ListRejects(ctx context.Context, filter dlq.Filter, unresolvedOnly bool) OperationResult[[]*dlq.DeadLetter] {
	return run(func() ([]*dlq.DeadLetter, error) {
		if unresolvedOnly {
			return f.DLQ.ListUnresolved(ctx, filter)
		}
		return f.DLQ.ListAll(ctx, filter)
	})
}

// ReasonCount is one bucket of CountRejectsByReason's result.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// CountRejectsByReason groups unresolved dead letters by a normalized
// reason. There is no structured reason column on a dead letter — Error is
// free text from whatever failed — so the grouping key is the error
// message's first line, truncated to its first colon-delimited segment
// (e.g. "adapter timeout: container exited after 30s" groups under
// "adapter timeout"), which is how the teacher's handlers format failures.
func (f *Facade) CountRejectsByReason(ctx context.Context) OperationResult[[]ReasonCount] {
	return run(func() ([]ReasonCount, error) {
		all, err := f.DLQ.ListUnresolved(ctx, dlq.Filter{})
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		order := make([]string, 0)
		for _, dl := range all {
			reason := reasonOf(dl.Error)
			if _, seen := counts[reason]; !seen {
				order = append(order, reason)
			}
			counts[reason]++
		}
		out := make([]ReasonCount, 0, len(order))
		for _, reason := range order {
			out = append(out, ReasonCount{Reason: reason, Count: counts[reason]})
		}
		return out, nil
	})
}

// ReplayReject resubmits a dead letter's workflow and params as a brand new
// execution, then marks the dead letter as having had a retry attempted.
// The new execution is independent of the original: a second failure lands
// its own dead letter row rather than reopening this one.
func (f *Facade) ReplayReject(ctx context.Context, opCtx OperationContext, id string) OperationResult[*ledger.Execution] {
	if result, skip := dryRunSkip[*ledger.Execution](opCtx, nil); skip {
		return result
	}
	return run(func() (*ledger.Execution, error) {
		dl, err := f.DLQ.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if dl == nil {
			return nil, &conductorerrors.NotFoundError{Resource: "dead_letter", ID: id}
		}
		canRetry, err := f.DLQ.CanRetry(ctx, id)
		if err != nil {
			return nil, err
		}
		if !canRetry {
			return nil, &conductorerrors.ConflictError{Resource: "dead_letter", Reason: "resolved or out of retries"}
		}
		exec, err := f.Ledger.CreateExecution(ctx, &ledger.Execution{
			Workflow:      dl.Workflow,
			Params:        dl.Params,
			TriggerSource: ledger.TriggerRetry,
			LogicalKey:    dl.ExecutionID,
		})
		if err != nil {
			return nil, err
		}
		if err := f.DLQ.MarkRetryAttempted(ctx, id); err != nil {
			return nil, err
		}
		return exec, nil
	})
}

// ResolveReject marks a dead letter resolved without replaying it, e.g.
// after an operator has fixed the underlying data out of band.
func (f *Facade) ResolveReject(ctx context.Context, opCtx OperationContext, id, resolvedBy, note string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		if err := f.DLQ.Resolve(ctx, id, resolvedBy, note); err != nil {
			return false, err
		}
		return true, nil
	})
}

func reasonOf(errMsg string) string {
	line := errMsg
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, ": "); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "unknown"
	}
	return line
}
