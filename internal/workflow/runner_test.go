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
	"time"
)

// fakeRunnable dispatches by step name to a caller-supplied function, so
// tests can script exactly which steps succeed or fail.
type fakeRunnable struct {
	byStep map[string]func(Context) StepResult
}

func (f fakeRunnable) Run(ctx context.Context, step PlannedStep, wfCtx Context) StepResult {
	if fn, ok := f.byStep[step.StepName]; ok {
		return fn(wfCtx)
	}
	return Ok(map[string]any{})
}

func planWithSteps(policy ExecutionPolicy, steps ...PlannedStep) *ExecutionPlan {
	return &ExecutionPlan{WorkflowName: "w", RunID: "run-1", Steps: steps, Policy: policy}
}

// TestRun_PartialFailureContinuesIndependentSteps exercises the partial-run
// scenario: three independent steps with no dependencies, run in parallel
// with on_failure=continue. B fails; A and C still complete, and the run's
// overall status is partial.
func TestRun_PartialFailureContinuesIndependentSteps(t *testing.T) {
	runnable := fakeRunnable{byStep: map[string]func(Context) StepResult{
		"B": func(Context) StepResult { return Failed("boom", ErrorInternal) },
	}}
	plan := planWithSteps(
		ExecutionPolicy{Mode: ModeParallel, MaxConcurrency: 4, OnFailure: OnErrorContinue},
		PlannedStep{StepName: "A"},
		PlannedStep{StepName: "B"},
		PlannedStep{StepName: "C"},
	)

	runner := NewRunner(runnable)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, plan, NewContext("run-1", "w", nil, ExecutionRef{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != RunPartial {
		t.Fatalf("expected partial status, got %s", result.Status)
	}
	if !result.Steps["A"].Success || !result.Steps["C"].Success {
		t.Fatalf("expected A and C to succeed: %+v", result.Steps)
	}
	if result.Steps["B"].Success {
		t.Fatalf("expected B to fail")
	}
}

func TestRun_StopPolicySkipsDownstreamSteps(t *testing.T) {
	runnable := fakeRunnable{byStep: map[string]func(Context) StepResult{
		"A": func(Context) StepResult { return Failed("boom", ErrorInternal) },
	}}
	plan := planWithSteps(
		ExecutionPolicy{Mode: ModeSequential, OnFailure: OnErrorStop},
		PlannedStep{StepName: "A"},
		PlannedStep{StepName: "B", DependsOn: []string{"A"}},
	)

	runner := NewRunner(runnable)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, plan, NewContext("run-1", "w", nil, ExecutionRef{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != RunFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
	if result.Steps["B"].Success {
		t.Fatalf("expected B to be skipped, got success")
	}
}

func TestRun_AllStepsCompleteYieldsCompletedStatus(t *testing.T) {
	runnable := fakeRunnable{}
	plan := planWithSteps(
		ExecutionPolicy{Mode: ModeSequential, OnFailure: OnErrorStop},
		PlannedStep{StepName: "A"},
		PlannedStep{StepName: "B", DependsOn: []string{"A"}},
	)

	runner := NewRunner(runnable)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, plan, NewContext("run-1", "w", nil, ExecutionRef{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != RunCompleted {
		t.Fatalf("expected completed status, got %s", result.Status)
	}
}

func TestRun_RetryRecoversTransientFailure(t *testing.T) {
	attempts := 0
	runnable := fakeRunnable{byStep: map[string]func(Context) StepResult{
		"A": func(Context) StepResult {
			attempts++
			if attempts < 2 {
				return Failed("flaky", ErrorTransient)
			}
			return Ok(map[string]any{"attempt": attempts})
		},
	}}
	plan := planWithSteps(
		ExecutionPolicy{Mode: ModeSequential, OnFailure: OnErrorStop},
		PlannedStep{StepName: "A", Step: Step{
			Retry: &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: 5 * time.Millisecond},
		}},
	)

	runner := NewRunner(runnable)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, plan, NewContext("run-1", "w", nil, ExecutionRef{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != RunCompleted {
		t.Fatalf("expected completed status, got %s", result.Status)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
