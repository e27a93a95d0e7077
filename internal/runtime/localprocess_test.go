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

package runtime

import (
	"context"
	"testing"
	"time"
)

func TestLocalProcessAdapter_SubmitRequiresCommand(t *testing.T) {
	a := NewLocalProcessAdapter()
	_, err := a.Submit(context.Background(), ContainerJobSpec{})
	if err == nil {
		t.Fatal("expected an error for an empty command")
	}
}

func TestLocalProcessAdapter_SubmitAndAwaitSuccess(t *testing.T) {
	a := NewLocalProcessAdapter()
	ref, err := a.Submit(context.Background(), ContainerJobSpec{
		Command: []string{"/bin/echo", "hello"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status := waitTerminal(t, a, ref)
	if status.State != JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", status.State, status.Message)
	}
	if status.ExitCode == nil || *status.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", status.ExitCode)
	}
}

func TestLocalProcessAdapter_SubmitCapturesNonZeroExit(t *testing.T) {
	a := NewLocalProcessAdapter()
	ref, err := a.Submit(context.Background(), ContainerJobSpec{
		Command: []string{"/bin/sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status := waitTerminal(t, a, ref)
	if status.State != JobFailed {
		t.Fatalf("expected failed, got %s", status.State)
	}
	if status.ExitCode == nil || *status.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %v", status.ExitCode)
	}
}

func TestLocalProcessAdapter_StatusUnknownRefIsNotFound(t *testing.T) {
	a := NewLocalProcessAdapter()
	_, err := a.Status(context.Background(), "no-such-ref")
	if err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestLocalProcessAdapter_CancelTerminatesRunningProcess(t *testing.T) {
	a := NewLocalProcessAdapter()
	ref, err := a.Submit(context.Background(), ContainerJobSpec{
		Command: []string{"/bin/sleep", "30"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ok, err := a.Cancel(context.Background(), ref)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to report true for a running job")
	}

	status := waitTerminal(t, a, ref)
	if status.State != JobCancelled {
		t.Fatalf("expected cancelled, got %s", status.State)
	}
}

func TestLocalProcessAdapter_CancelUnknownRefReturnsFalse(t *testing.T) {
	a := NewLocalProcessAdapter()
	ok, err := a.Cancel(context.Background(), "no-such-ref")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Fatal("expected cancel of an unknown ref to report false")
	}
}

func TestLocalProcessAdapter_LogsReturnsCapturedOutput(t *testing.T) {
	a := NewLocalProcessAdapter()
	ref, err := a.Submit(context.Background(), ContainerJobSpec{
		Command: []string{"/bin/echo", "line one"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, a, ref)

	ch, err := a.Logs(context.Background(), ref)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}

	var lines []string
	for l := range ch {
		lines = append(lines, l)
	}
	if len(lines) != 1 || lines[0] != "line one" {
		t.Fatalf("expected captured output [line one], got %v", lines)
	}
}

func TestLocalProcessAdapter_CleanupRemovesRecordAndIsIdempotent(t *testing.T) {
	a := NewLocalProcessAdapter()
	ref, err := a.Submit(context.Background(), ContainerJobSpec{Command: []string{"/bin/echo", "x"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, a, ref)

	if err := a.Cleanup(context.Background(), ref); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := a.Status(context.Background(), ref); err == nil {
		t.Fatal("expected status to fail after cleanup")
	}
	if err := a.Cleanup(context.Background(), ref); err != nil {
		t.Fatalf("second cleanup should be a no-op, got: %v", err)
	}
}

func TestLocalProcessAdapter_HealthReportsActiveJobCount(t *testing.T) {
	a := NewLocalProcessAdapter()
	health, err := a.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.Healthy {
		t.Fatal("expected healthy with no jobs running")
	}
	if health.Detail["active_jobs"] != 0 {
		t.Fatalf("expected zero active jobs, got %v", health.Detail["active_jobs"])
	}
}

func waitTerminal(t *testing.T, a *LocalProcessAdapter, ref string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := a.Status(context.Background(), ref)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.State.IsTerminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", ref)
	return JobStatus{}
}
