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

// Package workflow holds the declarative workflow model, the DAG planner
// that turns it into an ordered ExecutionPlan, and the runner that walks
// the plan over a backing Runnable.
package workflow

import "time"

// StepType discriminates the Step sum type.
type StepType string

const (
	StepPipeline StepType = "pipeline"
	StepLambda   StepType = "lambda"
	StepChoice   StepType = "choice"
	StepWait     StepType = "wait"
	StepMap      StepType = "map"
)

// FailurePolicy governs how a step's failure affects the rest of the run.
type FailurePolicy string

const (
	OnErrorStop     FailurePolicy = "stop"
	OnErrorContinue FailurePolicy = "continue"
)

// ExecutionMode governs step dispatch ordering.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// RetryPolicy configures exponential backoff with jitter between attempts.
type RetryPolicy struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	BackoffMultiplier float64
	MaxDelay         time.Duration
}

// Step is one node in a workflow's dependency graph. Exactly one of the
// type-specific fields is populated according to Type; this mirrors the
// tagged union the original Python dataclasses expressed via subclassing.
type Step struct {
	Name        string
	Type        StepType
	DependsOn   []string
	OnError     FailurePolicy
	Retry       *RetryPolicy

	// StepPipeline
	Pipeline string
	Params   map[string]any

	// StepLambda
	HandlerRef string
	Config     map[string]any

	// StepChoice
	Condition string
	ThenStep  string
	ElseStep  string

	// StepWait
	WaitSeconds   int
	WaitUntil     *time.Time

	// StepMap
	ItemsPath      string
	IteratorStep   string
	MaxConcurrency int
}

// ExecutionPolicy governs how a workflow's planned steps are dispatched.
type ExecutionPolicy struct {
	Mode           ExecutionMode
	MaxConcurrency int
	OnFailure      FailurePolicy
	TimeoutSeconds int
}

// DefaultExecutionPolicy mirrors the original's sequential/stop default.
var DefaultExecutionPolicy = ExecutionPolicy{Mode: ModeSequential, MaxConcurrency: 4, OnFailure: OnErrorStop}

// Workflow is the declarative definition a Planner resolves into a plan.
type Workflow struct {
	Name        string
	Domain      string
	Version     int
	Description string
	Steps       []Step
	Defaults    map[string]any
	Policy      ExecutionPolicy
	Tags        []string
}

// StepNames returns step names in declaration order.
func (w Workflow) StepNames() []string {
	names := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		names[i] = s.Name
	}
	return names
}

// GetStep returns the step with the given name, or false if absent.
func (w Workflow) GetStep(name string) (Step, bool) {
	for _, s := range w.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// PlannedStep is one entry in a resolved ExecutionPlan.
type PlannedStep struct {
	StepName      string
	OperationName string
	Params        map[string]any
	DependsOn     []string
	SequenceOrder int
	Step          Step
}

// ExecutionPlan is the planner's output: a topologically ordered, fully
// parameter-merged sequence of steps ready for the runner.
type ExecutionPlan struct {
	WorkflowName    string
	WorkflowVersion int
	RunID           string
	Steps           []PlannedStep
	Policy          ExecutionPolicy
	Params          map[string]any
}
