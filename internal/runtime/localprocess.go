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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/conductor-core/conductor/internal/ids"
)

// LocalProcessAdapter submits jobs as local subprocesses. Image is treated
// as documentation only; it never supports GPU, volumes, sidecars or init
// containers, since those are container-orchestration concepts with no
// local-process analogue.
type LocalProcessAdapter struct {
	mu         sync.Mutex
	procs      map[string]*localJob
	killGrace  time.Duration
	maxJobs    int
}

type localJob struct {
	cmd      *exec.Cmd
	status   JobStatus
	logLines []string
	logMu    sync.Mutex
	done     chan struct{}
}

// NewLocalProcessAdapter creates an adapter with a default 5 second
// termination grace period before SIGKILL.
func NewLocalProcessAdapter() *LocalProcessAdapter {
	return &LocalProcessAdapter{
		procs:     make(map[string]*localJob),
		killGrace: 5 * time.Second,
		maxJobs:   64,
	}
}

func (a *LocalProcessAdapter) Name() string { return "local_process" }

func (a *LocalProcessAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsLogStreaming: true}
}

func (a *LocalProcessAdapter) Constraints() Constraints {
	return Constraints{MaxTimeoutSeconds: 3600, MaxEnvCount: 256, MaxLabelCount: 64, MaxConcurrentJobs: a.maxJobs}
}

// Submit spawns spec.Command (spec.Image is documentation-only for this
// adapter) with spec.Env merged onto the process environment, captures
// stdout/stderr line-by-line, and returns immediately with an opaque ref;
// the process runs in the background and Status reports its progress.
// spec.IdempotencyKey is not consulted: every call spawns a new process and
// returns a new ref.
func (a *LocalProcessAdapter) Submit(ctx context.Context, spec ContainerJobSpec) (string, error) {
	if len(spec.Command) == 0 {
		return "", NewJobError(a.Name(), CategoryValidation, "local process adapter requires a non-empty command")
	}

	args := append(append([]string{}, spec.Command[1:]...), spec.Args...)
	cmd := exec.CommandContext(context.Background(), spec.Command[0], args...)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
	}
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", NewJobError(a.Name(), CategoryInternal, "stdout pipe: "+err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", NewJobError(a.Name(), CategoryInternal, "stderr pipe: "+err.Error())
	}

	if err := cmd.Start(); err != nil {
		return "", NewJobError(a.Name(), CategoryRuntimeUnavailable, "spawn: "+err.Error())
	}

	ref := "proc-" + ids.NewExecutionID()
	now := time.Now().UTC()
	job := &localJob{cmd: cmd, status: JobStatus{State: JobRunning, StartedAt: &now}, done: make(chan struct{})}

	a.mu.Lock()
	a.procs[ref] = job
	a.mu.Unlock()

	go job.captureStream(stdout)
	go job.captureStream(stderr)
	go job.wait(spec.TimeoutSeconds)

	return ref, nil
}

func (j *localJob) captureStream(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		j.logMu.Lock()
		j.logLines = append(j.logLines, scanner.Text())
		j.logMu.Unlock()
	}
}

func (j *localJob) wait(timeoutSeconds int) {
	errCh := make(chan error, 1)
	go func() { errCh <- j.cmd.Wait() }()

	var timeout <-chan time.Time
	if timeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-errCh:
		now := time.Now().UTC()
		j.status.CompletedAt = &now
		if err == nil {
			j.status.State = JobSucceeded
			code := 0
			j.status.ExitCode = &code
		} else if j.status.State == JobCancelled {
			// Cancel already set terminal state; leave it.
		} else {
			j.status.State = JobFailed
			j.status.Message = err.Error()
			if exitErr, ok := err.(*exec.ExitError); ok {
				code := exitErr.ExitCode()
				j.status.ExitCode = &code
			}
		}
	case <-timeout:
		_ = j.cmd.Process.Signal(syscall.SIGTERM)
		<-errCh
		now := time.Now().UTC()
		j.status.State = JobFailed
		j.status.Message = "timed out"
		j.status.CompletedAt = &now
	}
	close(j.done)
}

func (a *LocalProcessAdapter) Status(ctx context.Context, externalRef string) (JobStatus, error) {
	a.mu.Lock()
	job, ok := a.procs[externalRef]
	a.mu.Unlock()
	if !ok {
		return JobStatus{}, NewJobError(a.Name(), CategoryNotFound, "unknown external ref")
	}
	return job.status, nil
}

// Cancel sends SIGTERM, then SIGKILL after the grace period if the process
// has not exited. Returns false if the job is already terminal or unknown.
func (a *LocalProcessAdapter) Cancel(ctx context.Context, externalRef string) (bool, error) {
	a.mu.Lock()
	job, ok := a.procs[externalRef]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}
	if job.status.State.IsTerminal() {
		return false, nil
	}

	job.status.State = JobCancelled
	_ = job.cmd.Process.Signal(syscall.SIGTERM)

	go func() {
		select {
		case <-job.done:
		case <-time.After(a.killGrace):
			_ = job.cmd.Process.Kill()
		}
	}()

	return true, nil
}

func (a *LocalProcessAdapter) Logs(ctx context.Context, externalRef string) (<-chan string, error) {
	a.mu.Lock()
	job, ok := a.procs[externalRef]
	a.mu.Unlock()
	if !ok {
		return nil, NewJobError(a.Name(), CategoryNotFound, "unknown external ref")
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		job.logMu.Lock()
		lines := append([]string(nil), job.logLines...)
		job.logMu.Unlock()
		for _, l := range lines {
			select {
			case ch <- l:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Cleanup releases the in-memory record of a terminal job. It is
// idempotent: calling it on an unknown ref is a no-op.
func (a *LocalProcessAdapter) Cleanup(ctx context.Context, externalRef string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.procs, externalRef)
	return nil
}

func (a *LocalProcessAdapter) Health(ctx context.Context) (HealthStatus, error) {
	a.mu.Lock()
	active := len(a.procs)
	a.mu.Unlock()
	return HealthStatus{Healthy: true, Message: "ok", Detail: map[string]any{"active_jobs": active}}, nil
}

var _ Adapter = (*LocalProcessAdapter)(nil)
