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

// Package runtime defines the uniform adapter contract (submit / status /
// cancel / logs / cleanup / health) that every execution backend — stub,
// local subprocess, container, or remote job engine — implements, plus the
// router and pre-flight validator that sit in front of it.
package runtime

import (
	"context"
	"time"
)

// Capabilities are boolean flags an adapter advertises about what kinds of
// job specs it can actually run.
type Capabilities struct {
	SupportsGPU            bool
	SupportsVolumes        bool
	SupportsSidecars       bool
	SupportsInitContainers bool
	SupportsLogStreaming   bool
	SupportsArtifacts      bool
}

// Constraints are numeric limits an adapter enforces on submitted specs.
type Constraints struct {
	MaxTimeoutSeconds  int
	MaxEnvCount        int
	MaxLabelCount      int
	MaxMemoryMB        int64
	MaxCPUMillis       int64
	MaxConcurrentJobs  int
}

// Resources requests compute for a job.
type Resources struct {
	CPUMillis int64
	MemoryMB  int64
	GPU       int
}

// Volume is a mounted filesystem resource.
type Volume struct {
	Name      string
	MountPath string
	Source    string
}

// Sidecar is an auxiliary container run alongside the primary job.
type Sidecar struct {
	Name    string
	Image   string
	Command []string
}

// InitContainer runs to completion before the primary container starts.
type InitContainer struct {
	Name    string
	Image   string
	Command []string
}

// RetryPolicyRef names a retry policy defined elsewhere (the workflow
// runner's step retry policy); the adapter only threads it through.
type RetryPolicyRef string

// ContainerJobSpec is the adapter-agnostic description of one unit of work.
// Equality used for dedup is the deterministic spec hash (internal/ids),
// not a field-by-field comparison.
type ContainerJobSpec struct {
	Name           string
	Runtime        string // explicit adapter selection; empty = router default
	Image          string
	Command        []string
	Args           []string
	Env            map[string]string
	Labels         map[string]string
	Resources      Resources
	Volumes        []Volume
	Sidecars       []Sidecar
	InitContainers []InitContainer
	TimeoutSeconds int
	MaxCostUSD     *float64
	RetryPolicy    RetryPolicyRef
	IdempotencyKey string
}

// JobState is the adapter-observed lifecycle state of a submitted job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// IsTerminal reports whether a job state will never change again.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobStatus is the point-in-time observation returned by Adapter.Status.
type JobStatus struct {
	State       JobState
	ExitCode    *int
	Message     string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ErrorCategory classifies an adapter failure for retry routing.
type ErrorCategory string

const (
	CategoryValidation         ErrorCategory = "VALIDATION"
	CategoryRuntimeUnavailable ErrorCategory = "RUNTIME_UNAVAILABLE"
	CategoryQuotaExceeded      ErrorCategory = "QUOTA_EXCEEDED"
	CategoryTimeout            ErrorCategory = "TIMEOUT"
	CategoryCancelled          ErrorCategory = "CANCELLED"
	CategoryNotFound           ErrorCategory = "NOT_FOUND"
	CategoryInternal           ErrorCategory = "INTERNAL"
)

// retryableByDefault captures whether a category is retryable absent an
// explicit override at construction time.
var retryableByDefault = map[ErrorCategory]bool{
	CategoryValidation:         false,
	CategoryRuntimeUnavailable: true,
	CategoryQuotaExceeded:      false,
	CategoryTimeout:            true,
	CategoryCancelled:          false,
	CategoryNotFound:           false,
	CategoryInternal:           true,
}

// JobError is the error type every adapter method returns on failure.
type JobError struct {
	Runtime    string
	Category   ErrorCategory
	Message    string
	Retryable  bool
	RetryAfter *time.Duration
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return string(e.Category) + " (" + e.Runtime + "): " + e.Message
}

// ErrorType satisfies pkg/errors.ErrorClassifier.
func (e *JobError) ErrorType() string { return string(e.Category) }

// IsRetryable satisfies pkg/errors.ErrorClassifier.
func (e *JobError) IsRetryable() bool { return e.Retryable }

// NewJobError constructs a JobError with Retryable taken from the
// category's default; callers that need otherwise set the field afterwards.
func NewJobError(runtime string, category ErrorCategory, message string) *JobError {
	return &JobError{Runtime: runtime, Category: category, Message: message, Retryable: retryableByDefault[category]}
}

// HealthStatus reports adapter-level liveness.
type HealthStatus struct {
	Healthy bool
	Message string
	Detail  map[string]any
}

// Adapter is the uniform contract every execution backend implements.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Constraints() Constraints

	// Submit enqueues spec and returns an opaque external reference. It
	// must be idempotent with respect to spec.IdempotencyKey when set.
	Submit(ctx context.Context, spec ContainerJobSpec) (string, error)
	Status(ctx context.Context, externalRef string) (JobStatus, error)
	Cancel(ctx context.Context, externalRef string) (bool, error)
	// Logs streams newline-delimited log lines until ctx is cancelled or
	// the underlying source is exhausted.
	Logs(ctx context.Context, externalRef string) (<-chan string, error)
	Cleanup(ctx context.Context, externalRef string) error
	Health(ctx context.Context) (HealthStatus, error)
}
