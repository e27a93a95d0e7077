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

func TestDispatcher_ChoiceTakesThenBranchWhenConditionTrue(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := PlannedStep{
		StepName: "gate",
		Step: Step{
			Type: StepChoice, Condition: "count > 10", ThenStep: "big", ElseStep: "small",
		},
	}
	wfCtx := NewContext("run-1", "wf", map[string]any{"count": 42}, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if !result.Success {
		t.Fatalf("expected choice step to succeed, got error: %s", result.Error)
	}
	if result.NextStep != "big" {
		t.Fatalf("expected next_step 'big', got %q", result.NextStep)
	}
}

func TestDispatcher_ChoiceTakesElseBranchWhenConditionFalse(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := PlannedStep{
		StepName: "gate",
		Step:     Step{Type: StepChoice, Condition: "count > 10", ThenStep: "big", ElseStep: "small"},
	}
	wfCtx := NewContext("run-1", "wf", map[string]any{"count": 1}, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if result.NextStep != "small" {
		t.Fatalf("expected next_step 'small', got %q", result.NextStep)
	}
}

func TestDispatcher_ChoiceInvalidConditionIsConfigurationError(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := PlannedStep{Step: Step{Type: StepChoice, Condition: "not( a valid &&& expr"}}
	wfCtx := NewContext("run-1", "wf", nil, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if result.Success {
		t.Fatalf("expected malformed condition to fail")
	}
	if result.ErrorCategory != ErrorConfiguration {
		t.Fatalf("expected CONFIGURATION category, got %s", result.ErrorCategory)
	}
}

func TestDispatcher_LambdaResolvesAndCoercesResult(t *testing.T) {
	resolver := func(ref string) (LambdaFunc, bool) {
		if ref != "notify" {
			return nil, false
		}
		return func(ctx context.Context, params map[string]any, wfCtx Context) (any, error) {
			return map[string]any{"sent": true, "to": params["to"]}, nil
		}, true
	}
	d := NewDispatcher(nil, nil, resolver)
	step := PlannedStep{Step: Step{Type: StepLambda, HandlerRef: "notify"}, Params: map[string]any{"to": "ops"}}
	wfCtx := NewContext("run-1", "wf", nil, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if !result.Success || result.Output["to"] != "ops" {
		t.Fatalf("unexpected lambda result: %+v", result)
	}
}

func TestDispatcher_LambdaUnknownHandlerRefIsConfigurationError(t *testing.T) {
	d := NewDispatcher(nil, nil, func(string) (LambdaFunc, bool) { return nil, false })
	step := PlannedStep{Step: Step{Type: StepLambda, HandlerRef: "missing"}}

	result := d.Run(context.Background(), step, NewContext("r", "wf", nil, ExecutionRef{}))

	if result.Success || result.ErrorCategory != ErrorConfiguration {
		t.Fatalf("expected configuration error for unknown handler, got %+v", result)
	}
}

func TestDispatcher_WaitSleepsForConfiguredDuration(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := PlannedStep{Step: Step{Type: StepWait, WaitSeconds: 1}}

	start := time.Now()
	result := d.Run(context.Background(), step, NewContext("r", "wf", nil, ExecutionRef{}))
	elapsed := time.Since(start)

	if !result.Success {
		t.Fatalf("expected wait to succeed")
	}
	if elapsed < time.Second {
		t.Fatalf("expected wait to block at least 1s, took %s", elapsed)
	}
}

func TestDispatcher_MapFansOutOverItemsAndAggregatesOutputs(t *testing.T) {
	lambdaCalls := 0
	resolver := func(ref string) (LambdaFunc, bool) {
		return func(ctx context.Context, params map[string]any, wfCtx Context) (any, error) {
			lambdaCalls++
			return map[string]any{"doubled": params["item"].(int) * 2}, nil
		}, true
	}
	d := NewDispatcher([]Step{
		{Name: "per_item", Type: StepLambda, HandlerRef: "double"},
	}, nil, resolver)

	step := PlannedStep{
		StepName: "fan_out",
		Step: Step{
			Type: StepMap, ItemsPath: "params.items", IteratorStep: "per_item", MaxConcurrency: 2,
		},
	}
	wfCtx := NewContext("r", "wf", map[string]any{"items": []any{1, 2, 3}}, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if !result.Success {
		t.Fatalf("expected map step to succeed: %s", result.Error)
	}
	if result.Output["count"] != 3 {
		t.Fatalf("expected count 3, got %v", result.Output["count"])
	}
	if lambdaCalls != 3 {
		t.Fatalf("expected iterator step invoked 3 times, got %d", lambdaCalls)
	}
}

func TestDispatcher_MapFailsWhenAnyItemFails(t *testing.T) {
	resolver := func(ref string) (LambdaFunc, bool) {
		return func(ctx context.Context, params map[string]any, wfCtx Context) (any, error) {
			if params["item"].(int) == 2 {
				return nil, errBoom
			}
			return map[string]any{"ok": true}, nil
		}, true
	}
	d := NewDispatcher([]Step{{Name: "per_item", Type: StepLambda, HandlerRef: "maybe_fail"}}, nil, resolver)
	step := PlannedStep{
		StepName: "fan_out",
		Step:     Step{Type: StepMap, ItemsPath: "params.items", IteratorStep: "per_item"},
	}
	wfCtx := NewContext("r", "wf", map[string]any{"items": []any{1, 2, 3}}, ExecutionRef{})

	result := d.Run(context.Background(), step, wfCtx)

	if result.Success {
		t.Fatalf("expected map step to fail when an item fails")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
