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
	"fmt"
	"strings"

	"github.com/conductor-core/conductor/internal/ids"
)

// StepNotFoundError reports a step referencing an unknown pipeline/handler.
type StepNotFoundError struct {
	StepName string
	Target   string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("workflow: step %q references unknown operation %q", e.StepName, e.Target)
}

// DependencyError reports a step whose depends_on targets an unknown step.
type DependencyError struct {
	StepName string
	Missing  []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("workflow: step %q depends on unknown step(s) %s", e.StepName, strings.Join(e.Missing, ", "))
}

// CycleDetectedError carries the cycle discovered during DFS, with the node
// that closes the cycle appearing at both the start and end of the list.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("workflow: dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// OperationResolver reports whether an operation name is known, so the
// planner can surface StepNotFoundError before attempting to run anything.
// A nil resolver skips this check (used by tests exercising plan shape only).
type OperationResolver interface {
	Exists(operationName string) bool
}

// Planner resolves a Workflow definition into an ExecutionPlan.
type Planner struct {
	resolver OperationResolver
}

// NewPlanner builds a Planner. resolver may be nil to skip the
// operation-existence check.
func NewPlanner(resolver OperationResolver) *Planner {
	return &Planner{resolver: resolver}
}

func (p *Planner) operationName(s Step) string {
	switch s.Type {
	case StepPipeline:
		return s.Pipeline
	case StepLambda:
		return s.HandlerRef
	default:
		return ""
	}
}

// Resolve validates a workflow and produces its ExecutionPlan. runID is
// caller-supplied (or generated) and threads through as the plan's stable
// correlation identifier.
func (p *Planner) Resolve(w Workflow, runParams map[string]any, runID string) (*ExecutionPlan, error) {
	if runID == "" {
		runID = ids.NewExecutionID()
	}
	if runParams == nil {
		runParams = map[string]any{}
	}

	if p.resolver != nil {
		for _, s := range w.Steps {
			op := p.operationName(s)
			if op != "" && !p.resolver.Exists(op) {
				return nil, &StepNotFoundError{StepName: s.Name, Target: op}
			}
		}
	}

	if err := validateDependencies(w.Steps); err != nil {
		return nil, err
	}
	if err := detectCycle(w.Steps); err != nil {
		return nil, err
	}

	sorted, err := topologicalSort(w.Steps)
	if err != nil {
		return nil, err
	}

	planned := make([]PlannedStep, len(sorted))
	for i, s := range sorted {
		planned[i] = PlannedStep{
			StepName:      s.Name,
			OperationName: p.operationName(s),
			Params:        mergeParams(w.Defaults, runParams, s.Params),
			DependsOn:     s.DependsOn,
			SequenceOrder: i,
			Step:          s,
		}
	}

	policy := w.Policy
	if policy.Mode == "" {
		policy = DefaultExecutionPolicy
	}

	return &ExecutionPlan{
		WorkflowName:    w.Name,
		WorkflowVersion: w.Version,
		RunID:           runID,
		Steps:           planned,
		Policy:          policy,
		Params:          runParams,
	}, nil
}

func validateDependencies(steps []Step) error {
	names := make(map[string]bool, len(steps))
	for _, s := range steps {
		names[s.Name] = true
	}
	for _, s := range steps {
		var missing []string
		for _, dep := range s.DependsOn {
			if !names[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return &DependencyError{StepName: s.Name, Missing: missing}
		}
	}
	return nil
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// detectCycle runs a three-colour DFS, reporting the first cycle found with
// its closing node repeated at both ends of the reported path.
func detectCycle(steps []Step) error {
	graph := make(map[string][]string, len(steps))
	color := make(map[string]int, len(steps))
	for _, s := range steps {
		graph[s.Name] = s.DependsOn
		color[s.Name] = colorWhite
	}

	var path []string
	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = colorGray
		path = append(path, node)

		for _, neighbor := range graph[node] {
			switch color[neighbor] {
			case colorGray:
				start := indexOf(path, neighbor)
				cycle := append(append([]string{}, path[start:]...), neighbor)
				return cycle
			case colorWhite:
				if cycle := dfs(neighbor); cycle != nil {
					return cycle
				}
			}
		}

		color[node] = colorBlack
		path = path[:len(path)-1]
		return nil
	}

	for _, s := range steps {
		if color[s.Name] == colorWhite {
			if cycle := dfs(s.Name); cycle != nil {
				return &CycleDetectedError{Cycle: cycle}
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// topologicalSort implements Kahn's algorithm, processing the ready queue in
// FIFO order so ties resolve by declaration order.
func topologicalSort(steps []Step) ([]Step, error) {
	byName := make(map[string]Step, len(steps))
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)

	for _, s := range steps {
		byName[s.Name] = s
		if _, ok := inDegree[s.Name]; !ok {
			inDegree[s.Name] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
			inDegree[s.Name]++
		}
	}

	var queue []string
	for _, s := range steps {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	var result []Step
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, byName[name])

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(steps) {
		return nil, fmt.Errorf("workflow: topological sort incomplete, %d of %d steps ordered (undetected cycle)", len(result), len(steps))
	}
	return result, nil
}

// mergeParams applies the precedence defaults < runParams < stepParams,
// shallow by key, independent of step declaration order.
func mergeParams(defaults, runParams, stepParams map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(runParams)+len(stepParams))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range runParams {
		merged[k] = v
	}
	for k, v := range stepParams {
		merged[k] = v
	}
	return merged
}
