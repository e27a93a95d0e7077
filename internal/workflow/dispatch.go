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
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// LambdaFunc is an in-process handler invoked by a StepLambda step.
type LambdaFunc func(ctx context.Context, params map[string]any, wfCtx Context) (any, error)

// LambdaResolver resolves a Step.HandlerRef to the function that runs it.
type LambdaResolver func(handlerRef string) (LambdaFunc, bool)

// Dispatcher is the Runnable the runner is normally handed: it looks at
// each planned step's Type and routes PIPELINE steps to a backing Runnable
// (typically the container bridge), LAMBDA steps to an in-process handler,
// evaluates CHOICE conditions, sleeps for WAIT, and fans MAP out over a
// collection — so callers of Runner never special-case step types.
type Dispatcher struct {
	Pipelines Runnable
	Lambdas   LambdaResolver
	StepIndex map[string]Step
}

// NewDispatcher builds a Dispatcher, indexing steps by name so MAP can
// resolve its iterator step.
func NewDispatcher(steps []Step, pipelines Runnable, lambdas LambdaResolver) *Dispatcher {
	idx := make(map[string]Step, len(steps))
	for _, s := range steps {
		idx[s.Name] = s
	}
	return &Dispatcher{Pipelines: pipelines, Lambdas: lambdas, StepIndex: idx}
}

// Run implements Runnable by dispatching on the planned step's type.
func (d *Dispatcher) Run(ctx context.Context, step PlannedStep, wfCtx Context) StepResult {
	switch step.Step.Type {
	case StepPipeline, "":
		if d.Pipelines == nil {
			return Failed("no pipeline runnable configured", ErrorConfiguration)
		}
		return d.Pipelines.Run(ctx, step, wfCtx)
	case StepLambda:
		return d.runLambda(ctx, step, wfCtx)
	case StepChoice:
		return d.runChoice(step, wfCtx)
	case StepWait:
		return d.runWait(ctx, step)
	case StepMap:
		return d.runMap(ctx, step, wfCtx)
	default:
		return Failed(fmt.Sprintf("unknown step type %q", step.Step.Type), ErrorConfiguration)
	}
}

func (d *Dispatcher) runLambda(ctx context.Context, step PlannedStep, wfCtx Context) StepResult {
	if d.Lambdas == nil {
		return Failed("no lambda resolver configured", ErrorConfiguration)
	}
	fn, ok := d.Lambdas(step.Step.HandlerRef)
	if !ok {
		return Failed(fmt.Sprintf("no handler registered for %q", step.Step.HandlerRef), ErrorConfiguration)
	}
	params := step.Params
	if len(step.Step.Config) > 0 {
		params = mergeMaps(params, step.Step.Config)
	}
	v, err := fn(ctx, params, wfCtx)
	if err != nil {
		return Failed(err.Error(), ErrorInternal)
	}
	return FromValue(v)
}

// runChoice compiles and evaluates the step's condition expression against
// the current params and prior outputs, then records the selected branch's
// step name in StepResult.NextStep. Runner does not read NextStep.
func (d *Dispatcher) runChoice(step PlannedStep, wfCtx Context) StepResult {
	env := choiceEnv(wfCtx, step.Params)
	program, err := expr.Compile(step.Step.Condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return Failed(fmt.Sprintf("invalid condition %q: %v", step.Step.Condition, err), ErrorConfiguration)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return Failed(fmt.Sprintf("condition evaluation failed: %v", err), ErrorInternal)
	}
	matched, _ := out.(bool)

	next := step.Step.ElseStep
	if matched {
		next = step.Step.ThenStep
	}
	result := Ok(map[string]any{"matched": matched})
	result.NextStep = next
	return result
}

func choiceEnv(wfCtx Context, stepParams map[string]any) map[string]any {
	env := make(map[string]any, len(wfCtx.Params)+len(stepParams)+2)
	for k, v := range wfCtx.Params {
		env[k] = v
	}
	for k, v := range stepParams {
		env[k] = v
	}
	env["params"] = wfCtx.Params
	env["outputs"] = wfCtx.Outputs
	return env
}

func (d *Dispatcher) runWait(ctx context.Context, step PlannedStep) StepResult {
	var wait time.Duration
	switch {
	case step.Step.WaitUntil != nil:
		wait = time.Until(*step.Step.WaitUntil)
	case step.Step.WaitSeconds > 0:
		wait = time.Duration(step.Step.WaitSeconds) * time.Second
	}
	if wait <= 0 {
		return Ok(map[string]any{"waited_seconds": 0})
	}
	select {
	case <-ctx.Done():
		return Failed("context cancelled during wait", ErrorInternal)
	case <-time.After(wait):
		return Ok(map[string]any{"waited_seconds": wait.Seconds()})
	}
}

// runMap resolves items_path against the context, then runs the named
// iterator step once per item, bounded by max_concurrency, folding every
// item's output into a single list result.
func (d *Dispatcher) runMap(ctx context.Context, step PlannedStep, wfCtx Context) StepResult {
	rawItems, ok := lookupPath(wfCtx, step.Step.ItemsPath)
	if !ok {
		return Failed(fmt.Sprintf("items_path %q not found", step.Step.ItemsPath), ErrorConfiguration)
	}
	items, ok := toSlice(rawItems)
	if !ok {
		return Failed(fmt.Sprintf("items_path %q did not resolve to a list", step.Step.ItemsPath), ErrorDataQuality)
	}
	iterStep, ok := d.StepIndex[step.Step.IteratorStep]
	if !ok {
		return Failed(fmt.Sprintf("unknown iterator step %q", step.Step.IteratorStep), ErrorConfiguration)
	}

	maxConcurrency := step.Step.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	type itemOutcome struct {
		index  int
		result StepResult
	}
	sem := make(chan struct{}, maxConcurrency)
	outcomes := make(chan itemOutcome, len(items))
	for i, item := range items {
		sem <- struct{}{}
		go func(i int, item any) {
			defer func() { <-sem }()
			itemCtx := wfCtx.WithParams(map[string]any{"item": item, "item_index": i})
			planned := PlannedStep{
				StepName:      fmt.Sprintf("%s[%d]", step.StepName, i),
				OperationName: iterStep.Pipeline,
				Params:        mergeMaps(iterStep.Params, map[string]any{"item": item, "item_index": i}),
				Step:          iterStep,
			}
			outcomes <- itemOutcome{index: i, result: d.Run(ctx, planned, itemCtx)}
		}(i, item)
	}

	results := make([]map[string]any, len(items))
	failed := 0
	for range items {
		o := <-outcomes
		if !o.result.Success {
			failed++
		}
		results[o.index] = o.result.Output
	}

	if failed > 0 {
		return Failed(fmt.Sprintf("%d of %d map items failed", failed, len(items)), ErrorDependency)
	}
	return Ok(map[string]any{"items": results, "count": len(items)})
}

func mergeMaps(base, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// lookupPath resolves a dotted path like "params.items" or "outputs.fetch.rows"
// against the context; a path with no "params."/"outputs." prefix is looked
// up directly in params.
func lookupPath(wfCtx Context, path string) (any, bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || segs[0] == "" {
		return nil, false
	}

	var cur any
	switch segs[0] {
	case "params":
		cur = wfCtx.Params
	case "outputs":
		out := make(map[string]any, len(wfCtx.Outputs))
		for k, v := range wfCtx.Outputs {
			out[k] = v
		}
		cur = out
	default:
		v, ok := wfCtx.Params[segs[0]]
		if !ok {
			return nil, false
		}
		cur = v
	}

	for _, seg := range segs[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func toSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []map[string]any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}
