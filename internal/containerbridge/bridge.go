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

// Package containerbridge implements workflow.Runnable on top of the job
// engine facade, so the workflow runner can dispatch a pipeline step to a
// container runtime exactly like it would an in-process lambda. This keeps
// the orchestration layer fully decoupled from container specifics: it
// only ever sees workflow.StepResult.
package containerbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conductor-core/conductor/internal/jobengine"
	"github.com/conductor-core/conductor/internal/runtime"
	"github.com/conductor-core/conductor/internal/workflow"
)

const (
	defaultImage        = "conductor-operation:latest"
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 10 * time.Minute
)

var defaultCommandTemplate = []string{"conductor-cli", "run", "{operation}"}

// ImageResolver maps an operation name to the container image that runs it.
// An empty result (or a nil resolver) falls back to the configured default.
type ImageResolver func(operationName string) string

// Config tunes a Bridge's submission and polling behaviour.
type Config struct {
	ImageResolver   ImageResolver
	DefaultImage    string
	PollInterval    time.Duration
	Timeout         time.Duration
	CommandTemplate []string
}

// Bridge translates planned workflow steps into ContainerJobSpec
// submissions against the job engine facade, polling status until the
// job reaches a terminal state or the configured timeout elapses.
type Bridge struct {
	engine          *jobengine.Engine
	imageResolver   ImageResolver
	defaultImage    string
	pollInterval    time.Duration
	timeout         time.Duration
	commandTemplate []string
}

// New builds a Bridge over the given job engine facade.
func New(engine *jobengine.Engine, cfg Config) *Bridge {
	b := &Bridge{
		engine:          engine,
		imageResolver:   cfg.ImageResolver,
		defaultImage:    cfg.DefaultImage,
		pollInterval:    cfg.PollInterval,
		timeout:         cfg.Timeout,
		commandTemplate: cfg.CommandTemplate,
	}
	if b.defaultImage == "" {
		b.defaultImage = defaultImage
	}
	if b.pollInterval <= 0 {
		b.pollInterval = defaultPollInterval
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	if len(b.commandTemplate) == 0 {
		b.commandTemplate = defaultCommandTemplate
	}
	return b
}

// Run implements workflow.Runnable: build the spec, submit it, then block
// polling status until the job finishes or the bridge's timeout elapses.
func (b *Bridge) Run(ctx context.Context, step workflow.PlannedStep, wfCtx workflow.Context) workflow.StepResult {
	spec := b.buildSpec(step, wfCtx)

	submitResult, err := b.engine.Submit(ctx, spec)
	if err != nil {
		return workflow.Failed(fmt.Sprintf("container submit failed: %v", err), categorize(err))
	}

	return b.pollUntilDone(ctx, submitResult.ExecutionID)
}

func (b *Bridge) buildSpec(step workflow.PlannedStep, wfCtx workflow.Context) runtime.ContainerJobSpec {
	image := b.defaultImage
	if b.imageResolver != nil {
		if resolved := b.imageResolver(step.OperationName); resolved != "" {
			image = resolved
		}
	}

	command := make([]string, len(b.commandTemplate))
	for i, part := range b.commandTemplate {
		command[i] = strings.ReplaceAll(part, "{operation}", step.OperationName)
	}

	env := map[string]string{}
	for k, v := range step.Params {
		env[fmt.Sprintf("SPINE_PARAM_%s", strings.ToUpper(k))] = fmt.Sprintf("%v", v)
	}
	if wfCtx.Execution.ParentExecutionID != "" {
		env["SPINE_PARENT_RUN_ID"] = wfCtx.Execution.ParentExecutionID
	}
	if wfCtx.RunID != "" {
		env["SPINE_CORRELATION_ID"] = wfCtx.RunID
	}

	labels := map[string]string{"conductor.operation": step.OperationName}
	if wfCtx.Execution.ParentExecutionID != "" {
		labels["conductor.parent_run_id"] = wfCtx.Execution.ParentExecutionID
	}

	return runtime.ContainerJobSpec{
		Name:           fmt.Sprintf("operation-%s", strings.ReplaceAll(step.OperationName, ".", "-")),
		Image:          image,
		Command:        command,
		Env:            env,
		Labels:         labels,
		TimeoutSeconds: int(b.timeout.Seconds()),
	}
}

func (b *Bridge) pollUntilDone(ctx context.Context, executionID string) workflow.StepResult {
	deadline := time.Now().Add(b.timeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		status, err := b.engine.Status(ctx, executionID)
		if err != nil {
			return workflow.Failed(fmt.Sprintf("status poll failed: %v", err), workflow.ErrorDependency)
		}
		if status.State.IsTerminal() {
			return toStepResult(executionID, status)
		}
		if time.Now().After(deadline) {
			return workflow.Failed(fmt.Sprintf("operation timed out after %s", b.timeout), workflow.ErrorTimeout)
		}

		select {
		case <-ctx.Done():
			return workflow.Failed("context cancelled while polling", workflow.ErrorInternal)
		case <-ticker.C:
		}
	}
}

func toStepResult(executionID string, status runtime.JobStatus) workflow.StepResult {
	output := map[string]any{
		"execution_id":  executionID,
		"runtime_state": string(status.State),
	}
	if status.ExitCode != nil {
		output["exit_code"] = *status.ExitCode
	}

	if status.State == runtime.JobSucceeded {
		return workflow.Ok(output)
	}

	category := workflow.ErrorInternal
	if status.State == runtime.JobCancelled {
		category = workflow.ErrorDependency
	}
	result := workflow.Failed(status.Message, category)
	result.Output = output
	return result
}

func categorize(err error) workflow.ErrorCategory {
	if jobErr, ok := err.(*runtime.JobError); ok {
		switch jobErr.Category {
		case runtime.CategoryTimeout:
			return workflow.ErrorTimeout
		case runtime.CategoryRuntimeUnavailable:
			return workflow.ErrorTransient
		case runtime.CategoryValidation:
			return workflow.ErrorConfiguration
		default:
			return workflow.ErrorInternal
		}
	}
	return workflow.ErrorInternal
}
