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

// Package operations is the single facade the operations API and CLI sit
// behind: every recognized operation name maps to one method here, each of
// which returns an OperationResult instead of a bare error so a caller never
// has to catch a panic to render a response.
package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/conductor-core/conductor/internal/alerts"
	"github.com/conductor-core/conductor/internal/dlq"
	"github.com/conductor-core/conductor/internal/jobengine"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/manifest"
	"github.com/conductor-core/conductor/internal/scheduler"
	"github.com/conductor-core/conductor/internal/workflow"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Error codes a caller can branch on without string-matching a message.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL"
)

// OpError is the structured error shape carried on a failed OperationResult.
type OpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OperationResult is the uniform envelope every facade method returns.
type OperationResult[T any] struct {
	Success    bool           `json:"success"`
	Data       T              `json:"data,omitempty"`
	Error      *OpError       `json:"error,omitempty"`
	ElapsedMS  int64          `json:"elapsed_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PagedResult wraps a page of items with the bookkeeping needed to fetch the
// next one.
type PagedResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// OperationContext carries the caller identity and dry-run flag through a
// single operation invocation; dry_run is honored by mutating operations
// (cancel, resolve, purge) which check it before writing anything.
type OperationContext struct {
	CallerID string
	DryRun   bool
}

// Facade wires the ledger, dispatcher-facing job engine, scheduler, DLQ,
// manifest, alert stores and workflow runtime behind the recognized
// operation set.
type Facade struct {
	Jobs          *jobengine.Engine
	Ledger        *ledger.Ledger
	Scheduler     *scheduler.Store
	SchedulerRun  *scheduler.Scheduler
	DLQ           *dlq.Queue
	Manifest      *manifest.Manifest
	Alerts        *alerts.Store

	Workflows        *workflow.Registry
	Planner          *workflow.Planner
	WorkflowStore    *workflow.Store
	WorkflowPipeline workflow.Runnable
	WorkflowLambdas  workflow.LambdaResolver
}

// New builds a Facade from its constituent stores. Any may be nil; the
// operations that depend on a nil store report CodeInternal rather than
// panicking.
func New(jobs *jobengine.Engine, led *ledger.Ledger, sched *scheduler.Store, dlqQueue *dlq.Queue, man *manifest.Manifest, alertStore *alerts.Store) *Facade {
	return &Facade{Jobs: jobs, Ledger: led, Scheduler: sched, DLQ: dlqQueue, Manifest: man, Alerts: alertStore}
}

// WithSchedulerRunner attaches the running Scheduler so manual trigger
// operations can fire a schedule out of band.
func (f *Facade) WithSchedulerRunner(s *scheduler.Scheduler) *Facade {
	f.SchedulerRun = s
	return f
}

// WithWorkflowRuntime attaches the workflow registry, planner, durable store
// and the Dispatcher's ingredients (the pipeline Runnable and lambda
// resolver), enabling the facade's workflow operations. Kept separate from
// New because the workflow runtime depends on adapters that are wired up
// after the facade's storage-backed dependencies.
//
// A Runner is never stored here: workflow.Dispatcher indexes its Runnable
// by the steps of the one workflow it was built for, so a single
// Facade-lifetime Runner would resolve MAP iterators against whichever
// workflow happened to build it first. RunWorkflow builds a fresh
// Dispatcher and Runner per call instead.
func (f *Facade) WithWorkflowRuntime(registry *workflow.Registry, planner *workflow.Planner, pipeline workflow.Runnable, lambdas workflow.LambdaResolver, store *workflow.Store) *Facade {
	f.Workflows = registry
	f.Planner = planner
	f.WorkflowPipeline = pipeline
	f.WorkflowLambdas = lambdas
	f.WorkflowStore = store
	return f
}

// run is the shared envelope: it times the call, recovers any panic the
// wrapped function raises, and classifies the returned error into an
// OpError so nothing escapes as a bare Go error or a crash.
func run[T any](fn func() (T, error)) (result OperationResult[T]) {
	start := time.Now()
	defer func() {
		result.ElapsedMS = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			var zero T
			result = OperationResult[T]{
				Error: &OpError{Code: CodeInternal, Message: fmt.Sprintf("panic: %v", r)},
				Data:  zero,
			}
			result.ElapsedMS = time.Since(start).Milliseconds()
		}
	}()

	data, err := fn()
	if err != nil {
		return OperationResult[T]{Error: classify(err), Data: data}
	}
	return OperationResult[T]{Success: true, Data: data}
}

func classify(err error) *OpError {
	var classifier conductorerrors.ErrorClassifier
	if conductorerrors.As(err, &classifier) {
		switch classifier.ErrorType() {
		case "validation":
			return &OpError{Code: CodeValidationFailed, Message: err.Error()}
		case "not_found":
			return &OpError{Code: CodeNotFound, Message: err.Error()}
		case "conflict":
			return &OpError{Code: CodeConflict, Message: err.Error()}
		default:
			return &OpError{Code: CodeInternal, Message: err.Error()}
		}
	}
	return &OpError{Code: CodeInternal, Message: err.Error()}
}

func dryRunSkip[T any](opCtx OperationContext, data T) (OperationResult[T], bool) {
	if opCtx.DryRun {
		return OperationResult[T]{Success: true, Data: data, Metadata: map[string]any{"dry_run": true}}, true
	}
	return OperationResult[T]{}, false
}
