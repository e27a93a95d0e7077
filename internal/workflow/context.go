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

import "time"

// ExecutionRef correlates a workflow run to the execution/batch/parent ids
// used for lineage across the ledger and any nested executions.
type ExecutionRef struct {
	ExecutionID       string
	BatchID           string
	ParentExecutionID string
}

// Context is the immutable snapshot that flows step-to-step. Every mutation
// method returns a new Context; the runner holds the current reference and
// publishes a new one after each step rather than mutating in place.
type Context struct {
	RunID        string
	WorkflowName string
	Params       map[string]any
	Outputs      map[string]map[string]any
	Partition    map[string]any
	Execution    ExecutionRef
	StartedAt    time.Time
	Metadata     map[string]any
}

// NewContext builds the initial context for a run.
func NewContext(runID, workflowName string, params map[string]any, exec ExecutionRef) Context {
	if params == nil {
		params = map[string]any{}
	}
	return Context{
		RunID:        runID,
		WorkflowName: workflowName,
		Params:       params,
		Outputs:      map[string]map[string]any{},
		Partition:    map[string]any{},
		Execution:    exec,
		StartedAt:    time.Now().UTC(),
		Metadata:     map[string]any{},
	}
}

// GetParam reads a parameter with a fallback default.
func (c Context) GetParam(key string, def any) any {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// GetOutput reads a prior step's output, optionally a single key within it.
func (c Context) GetOutput(stepName, key string, def any) any {
	out, ok := c.Outputs[stepName]
	if !ok {
		return def
	}
	if key == "" {
		return out
	}
	if v, ok := out[key]; ok {
		return v
	}
	return def
}

// HasOutput reports whether a step has already produced output.
func (c Context) HasOutput(stepName string) bool {
	_, ok := c.Outputs[stepName]
	return ok
}

// IsDryRun reads the conventional dry_run metadata flag.
func (c Context) IsDryRun() bool {
	v, _ := c.Metadata["dry_run"].(bool)
	return v
}

// WithOutput returns a new Context with a step's output recorded.
func (c Context) WithOutput(stepName string, output map[string]any) Context {
	outputs := make(map[string]map[string]any, len(c.Outputs)+1)
	for k, v := range c.Outputs {
		outputs[k] = v
	}
	outputs[stepName] = output
	next := c
	next.Outputs = outputs
	return next
}

// WithParams returns a new Context with updates shallow-merged into params.
func (c Context) WithParams(updates map[string]any) Context {
	params := make(map[string]any, len(c.Params)+len(updates))
	for k, v := range c.Params {
		params[k] = v
	}
	for k, v := range updates {
		params[k] = v
	}
	next := c
	next.Params = params
	return next
}

// WithMetadata returns a new Context with updates shallow-merged into metadata.
func (c Context) WithMetadata(updates map[string]any) Context {
	metadata := make(map[string]any, len(c.Metadata)+len(updates))
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	for k, v := range updates {
		metadata[k] = v
	}
	next := c
	next.Metadata = metadata
	return next
}

// ErrorCategory classifies why a step failed, driving retry eligibility.
type ErrorCategory string

const (
	ErrorInternal      ErrorCategory = "INTERNAL"
	ErrorDataQuality   ErrorCategory = "DATA_QUALITY"
	ErrorTransient     ErrorCategory = "TRANSIENT"
	ErrorTimeout       ErrorCategory = "TIMEOUT"
	ErrorDependency    ErrorCategory = "DEPENDENCY"
	ErrorConfiguration ErrorCategory = "CONFIGURATION"
)

// QualityMetrics captures the optional data-quality summary a step may
// report alongside its output.
type QualityMetrics struct {
	RecordCount int
	ValidCount  int
	NullCount   int
	ValidRate   float64
	Custom      map[string]any
	Pass        bool
}

// StepResult is the canonical envelope every step dispatch produces, either
// directly or via FromValue coercion of a handler's raw return value.
type StepResult struct {
	Success        bool
	Output         map[string]any
	ContextUpdates map[string]any
	Quality        *QualityMetrics
	Error          string
	ErrorCategory  ErrorCategory
	Events         []string
	NextStep       string // branch a CHOICE step selected; Runner ignores it and runs every planned step by dependency order
}

// Ok builds a successful StepResult.
func Ok(output map[string]any) StepResult {
	return StepResult{Success: true, Output: output}
}

// Failed builds a failed StepResult with the given category.
func Failed(message string, category ErrorCategory) StepResult {
	return StepResult{Success: false, Error: message, ErrorCategory: category}
}

// FromValue coerces an arbitrary handler return value into a StepResult
// following the canonical rules: a StepResult passes through unchanged, nil
// becomes an empty success, a map becomes a successful output, a bool
// becomes the success flag with an empty output, and any other primitive is
// wrapped under a conventional "value" key.
func FromValue(v any) StepResult {
	switch val := v.(type) {
	case StepResult:
		return val
	case nil:
		return Ok(map[string]any{})
	case map[string]any:
		return Ok(val)
	case bool:
		return StepResult{Success: val}
	default:
		return Ok(map[string]any{"value": val})
	}
}
