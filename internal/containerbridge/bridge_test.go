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

package containerbridge

import (
	"context"
	"testing"
	"time"

	"github.com/conductor-core/conductor/internal/breaker"
	"github.com/conductor-core/conductor/internal/jobengine"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/runtime"
	"github.com/conductor-core/conductor/internal/storage"
	"github.com/conductor-core/conductor/internal/workflow"
)

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *runtime.StubAdapter) {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	adapter := runtime.NewStubAdapter("stub")
	router := runtime.NewRouter()
	router.Register(adapter)

	engine := jobengine.New(router, ledger.New(conn), breaker.NewRegistry(breaker.DefaultSettings))
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return New(engine, cfg), adapter
}

func TestRun_SubmitsSpecWithExpectedEnvAndLabels(t *testing.T) {
	bridge, adapter := newTestBridge(t, Config{})
	step := workflow.PlannedStep{
		StepName:      "fetch",
		OperationName: "ingest.fetch",
		Params:        map[string]any{"source": "s3"},
	}
	wfCtx := workflow.NewContext("run-1", "w", nil, workflow.ExecutionRef{ParentExecutionID: "parent-1"})

	result := bridge.Run(context.Background(), step, wfCtx)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if adapter.SubmitCount != 1 {
		t.Fatalf("expected exactly one adapter submit, got %d", adapter.SubmitCount)
	}

	spec := adapter.LastSpec
	if spec.Env["SPINE_PARAM_SOURCE"] != "s3" {
		t.Fatalf("expected param env var, got %+v", spec.Env)
	}
	if spec.Env["SPINE_PARENT_RUN_ID"] != "parent-1" {
		t.Fatalf("expected parent run env var, got %+v", spec.Env)
	}
	if spec.Env["SPINE_CORRELATION_ID"] != "run-1" {
		t.Fatalf("expected correlation env var, got %+v", spec.Env)
	}
	if spec.Labels["conductor.operation"] != "ingest.fetch" {
		t.Fatalf("expected operation label, got %+v", spec.Labels)
	}
}

func TestRun_UsesImageResolverWhenProvided(t *testing.T) {
	bridge, adapter := newTestBridge(t, Config{
		ImageResolver: func(op string) string {
			if op == "ingest.fetch" {
				return "custom/image:latest"
			}
			return ""
		},
	})
	step := workflow.PlannedStep{StepName: "fetch", OperationName: "ingest.fetch"}
	wfCtx := workflow.NewContext("run-1", "w", nil, workflow.ExecutionRef{})

	result := bridge.Run(context.Background(), step, wfCtx)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if adapter.LastSpec.Image != "custom/image:latest" {
		t.Fatalf("expected resolved image, got %s", adapter.LastSpec.Image)
	}
}

func TestRun_TimesOutWhenJobNeverTerminates(t *testing.T) {
	bridge, adapter := newTestBridge(t, Config{PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	adapter.AutoSucceed = false

	step := workflow.PlannedStep{StepName: "slow", OperationName: "ingest.slow"}
	wfCtx := workflow.NewContext("run-1", "w", nil, workflow.ExecutionRef{})

	result := bridge.Run(context.Background(), step, wfCtx)
	if result.Success {
		t.Fatalf("expected timeout failure, got success")
	}
	if result.ErrorCategory != workflow.ErrorTimeout {
		t.Fatalf("expected timeout category, got %s", result.ErrorCategory)
	}
}
