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

// Package jobengine is the facade in front of the runtime router, the
// circuit breaker registry and the ledger: the one place that knows how to
// turn a ContainerJobSpec into a durable, idempotent, runtime-dispatched
// execution.
package jobengine

import (
	"context"
	"fmt"

	"github.com/conductor-core/conductor/internal/breaker"
	"github.com/conductor-core/conductor/internal/ids"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/runtime"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// SubmitResult is returned by Submit, win or lose on the idempotency path.
type SubmitResult struct {
	ExecutionID string
	ExternalRef string
	Runtime     string
	SpecHash    string
}

// Engine wires the router, breaker registry and ledger behind the seven
// submit/status/cancel/logs/cleanup/list_jobs/health operations.
type Engine struct {
	router  *runtime.Router
	ledger  *ledger.Ledger
	breaker *breaker.Registry
}

// New builds an Engine. breakerRegistry may be nil, in which case a fresh
// registry with breaker.DefaultSettings is used, so adapter calls always go
// through a circuit breaker.
func New(router *runtime.Router, led *ledger.Ledger, breakerRegistry *breaker.Registry) *Engine {
	if breakerRegistry == nil {
		breakerRegistry = breaker.NewRegistry(breaker.DefaultSettings)
	}
	return &Engine{router: router, ledger: led, breaker: breakerRegistry}
}

// Submit resolves an adapter, validates the spec, and dispatches it,
// persisting every step in the ledger so a crash between any two steps
// leaves a row a later reconciliation pass can act on.
func (e *Engine) Submit(ctx context.Context, spec runtime.ContainerJobSpec) (*SubmitResult, error) {
	adapter, err := e.router.Select(spec)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "jobengine: select adapter")
	}

	if err := runtime.ValidateOrRaise(spec, adapter); err != nil {
		return nil, err
	}

	specHash, err := ids.SpecHash(spec)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "jobengine: hash spec")
	}

	if spec.IdempotencyKey != "" {
		existing, err := e.ledger.GetByIdempotencyKey(ctx, spec.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &SubmitResult{
				ExecutionID: existing.ID,
				ExternalRef: existing.ExternalRef,
				Runtime:     existing.RuntimeName,
				SpecHash:    specHash,
			}, nil
		}
	}

	exec, err := e.ledger.CreateExecution(ctx, &ledger.Execution{
		Workflow:       operationName(spec),
		Params:         specParams(spec),
		TriggerSource:  ledger.TriggerInternal,
		IdempotencyKey: spec.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	externalRef, submitErr := e.dispatch(ctx, adapter, spec)
	if submitErr != nil {
		msg := submitErr.Error()
		if updErr := e.ledger.UpdateStatus(ctx, exec.ID, ledger.StatusFailed, nil, msg); updErr != nil {
			return nil, updErr
		}
		return nil, submitErr
	}

	if err := e.ledger.SetDispatchInfo(ctx, exec.ID, adapter.Name(), externalRef); err != nil {
		return nil, err
	}
	if err := e.ledger.UpdateStatus(ctx, exec.ID, ledger.StatusRunning, nil, ""); err != nil {
		return nil, err
	}

	return &SubmitResult{
		ExecutionID: exec.ID,
		ExternalRef: externalRef,
		Runtime:     adapter.Name(),
		SpecHash:    specHash,
	}, nil
}

// dispatch calls adapter.Submit through the named breaker so a runtime that
// is failing consistently trips open and stops accepting new work before
// every caller times out against it individually.
func (e *Engine) dispatch(ctx context.Context, adapter runtime.Adapter, spec runtime.ContainerJobSpec) (string, error) {
	result, err := e.breaker.Execute(ctx, adapter.Name(), func() (any, error) {
		return adapter.Submit(ctx, spec)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// resolve loads the execution and the adapter it was dispatched to, the
// shared lookup behind status/cancel/logs/cleanup.
func (e *Engine) resolve(ctx context.Context, executionID string) (*ledger.Execution, runtime.Adapter, error) {
	exec, err := e.ledger.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	if exec == nil {
		return nil, nil, &conductorerrors.NotFoundError{Resource: "execution", ID: executionID}
	}
	if exec.RuntimeName == "" || exec.ExternalRef == "" {
		return nil, nil, &conductorerrors.ConflictError{Resource: "execution", Reason: "not yet dispatched to a runtime"}
	}
	adapter, ok := e.router.Get(exec.RuntimeName)
	if !ok {
		return nil, nil, fmt.Errorf("jobengine: runtime %q no longer registered", exec.RuntimeName)
	}
	return exec, adapter, nil
}

// Status resolves the adapter recorded on the execution and delegates.
func (e *Engine) Status(ctx context.Context, executionID string) (runtime.JobStatus, error) {
	exec, adapter, err := e.resolve(ctx, executionID)
	if err != nil {
		return runtime.JobStatus{}, err
	}
	return adapter.Status(ctx, exec.ExternalRef)
}

// Cancel resolves the adapter recorded on the execution and delegates,
// additionally marking the execution cancelled in the ledger on success.
func (e *Engine) Cancel(ctx context.Context, executionID string) (bool, error) {
	exec, adapter, err := e.resolve(ctx, executionID)
	if err != nil {
		return false, err
	}
	ok, err := adapter.Cancel(ctx, exec.ExternalRef)
	if err != nil {
		return false, err
	}
	if ok {
		if err := e.ledger.UpdateStatus(ctx, exec.ID, ledger.StatusCancelled, nil, ""); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// Logs resolves the adapter recorded on the execution and streams its logs.
func (e *Engine) Logs(ctx context.Context, executionID string) (<-chan string, error) {
	exec, adapter, err := e.resolve(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return adapter.Logs(ctx, exec.ExternalRef)
}

// Cleanup resolves the adapter recorded on the execution and releases any
// runtime-side resources it is still holding.
func (e *Engine) Cleanup(ctx context.Context, executionID string) error {
	exec, adapter, err := e.resolve(ctx, executionID)
	if err != nil {
		return err
	}
	return adapter.Cleanup(ctx, exec.ExternalRef)
}

// ListJobs delegates to the ledger's filtered listing.
func (e *Engine) ListJobs(ctx context.Context, f ledger.Filter) ([]*ledger.Execution, int, error) {
	return e.ledger.ListExecutions(ctx, f)
}

// Health reports adapter health. An empty runtimeName reports every
// registered adapter; otherwise only the named one.
func (e *Engine) Health(ctx context.Context, runtimeName string) (map[string]runtime.HealthStatus, error) {
	out := make(map[string]runtime.HealthStatus)
	names := []string{runtimeName}
	if runtimeName == "" {
		names = e.router.Names()
	}
	for _, name := range names {
		adapter, ok := e.router.Get(name)
		if !ok {
			continue
		}
		status, err := adapter.Health(ctx)
		if err != nil {
			status = runtime.HealthStatus{Healthy: false, Message: err.Error()}
		}
		out[name] = status
	}
	return out, nil
}

func operationName(spec runtime.ContainerJobSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return "task:" + spec.Image
}

func specParams(spec runtime.ContainerJobSpec) map[string]any {
	params := map[string]any{"image": spec.Image}
	if len(spec.Args) > 0 {
		args := make([]any, len(spec.Args))
		for i, a := range spec.Args {
			args[i] = a
		}
		params["args"] = args
	}
	if spec.Runtime != "" {
		params["runtime"] = spec.Runtime
	}
	return params
}
