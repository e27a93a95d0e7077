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
	"sync"

	"github.com/conductor-core/conductor/internal/ids"
)

// StubAdapter is a fully controllable test double implementing the full
// adapter contract. It is used by engine/router tests and by workflow
// steps exercising the container bridge without real infrastructure.
type StubAdapter struct {
	mu sync.Mutex

	name  string
	caps  Capabilities
	cons  Constraints
	jobs  map[string]*JobStatus
	specs map[string]string // external ref -> idempotency key, for dedup

	// Counters, observable by tests.
	SubmitCount  int
	CancelCount  int
	CleanupCount int

	// Injectable failure flags.
	FailSubmit bool
	FailCancel bool
	FailHealth bool

	// AutoSucceed toggles whether submitted jobs immediately transition to
	// succeeded; when false they stay pending until SetStatus is called.
	AutoSucceed bool

	// LastSpec records the most recent spec passed to Submit, so tests can
	// assert on env/label construction without a real runtime behind it.
	LastSpec ContainerJobSpec

	byIdempotency map[string]string // idempotency key -> external ref
}

// NewStubAdapter creates a stub with default capabilities permitting
// everything, so validator tests opt into restrictions explicitly.
func NewStubAdapter(name string) *StubAdapter {
	return &StubAdapter{
		caps: Capabilities{
			SupportsGPU: true, SupportsVolumes: true, SupportsSidecars: true,
			SupportsInitContainers: true, SupportsLogStreaming: true, SupportsArtifacts: true,
		},
		cons:          Constraints{MaxTimeoutSeconds: 86400, MaxEnvCount: 1000, MaxLabelCount: 1000, MaxConcurrentJobs: 1000},
		jobs:          make(map[string]*JobStatus),
		specs:         make(map[string]string),
		byIdempotency: make(map[string]string),
		AutoSucceed:   true,
		name:          name,
	}
}

func (s *StubAdapter) WithCapabilities(c Capabilities) *StubAdapter { s.caps = c; return s }
func (s *StubAdapter) WithConstraints(c Constraints) *StubAdapter   { s.cons = c; return s }

func (s *StubAdapter) Name() string               { return s.name }
func (s *StubAdapter) Capabilities() Capabilities { return s.caps }
func (s *StubAdapter) Constraints() Constraints   { return s.cons }

func (s *StubAdapter) Submit(ctx context.Context, spec ContainerJobSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastSpec = spec

	if spec.IdempotencyKey != "" {
		if ref, ok := s.byIdempotency[spec.IdempotencyKey]; ok {
			return ref, nil
		}
	}

	s.SubmitCount++
	if s.FailSubmit {
		return "", NewJobError(s.name, CategoryRuntimeUnavailable, "stub: submit forced to fail")
	}

	ref := "stub-" + ids.NewExecutionID()
	status := &JobStatus{State: JobPending}
	if s.AutoSucceed {
		status.State = JobSucceeded
		code := 0
		status.ExitCode = &code
	}
	s.jobs[ref] = status
	if spec.IdempotencyKey != "" {
		s.byIdempotency[spec.IdempotencyKey] = ref
	}
	return ref, nil
}

func (s *StubAdapter) Status(ctx context.Context, externalRef string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[externalRef]
	if !ok {
		return JobStatus{}, NewJobError(s.name, CategoryNotFound, "stub: unknown external ref")
	}
	return *st, nil
}

// SetStatus lets tests drive a submitted job to any state deterministically.
func (s *StubAdapter) SetStatus(externalRef string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[externalRef] = &status
}

func (s *StubAdapter) Cancel(ctx context.Context, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCount++
	if s.FailCancel {
		return false, NewJobError(s.name, CategoryInternal, "stub: cancel forced to fail")
	}
	st, ok := s.jobs[externalRef]
	if !ok {
		return false, nil
	}
	if st.State.IsTerminal() {
		return false, nil
	}
	st.State = JobCancelled
	return true, nil
}

func (s *StubAdapter) Logs(ctx context.Context, externalRef string) (<-chan string, error) {
	ch := make(chan string, 1)
	ch <- "stub: no logs recorded for " + externalRef
	close(ch)
	return ch, nil
}

func (s *StubAdapter) Cleanup(ctx context.Context, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CleanupCount++
	delete(s.jobs, externalRef)
	return nil
}

func (s *StubAdapter) Health(ctx context.Context) (HealthStatus, error) {
	if s.FailHealth {
		return HealthStatus{Healthy: false, Message: "stub: health forced to fail"}, nil
	}
	return HealthStatus{Healthy: true, Message: "ok"}, nil
}

var _ Adapter = (*StubAdapter)(nil)
