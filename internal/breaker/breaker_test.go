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

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestRegistry_StaysClosedBelowThreshold(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = r.Execute(ctx, "adapter-a", func() (any, error) { return nil, errors.New("boom") })
	}
	if r.State("adapter-a") != gobreaker.StateClosed {
		t.Fatalf("expected breaker to remain closed below failure threshold, got %v", r.State("adapter-a"))
	}
}

func TestRegistry_OpensAtThreshold(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "adapter-b", func() (any, error) { return nil, errors.New("boom") })
	}
	if r.State("adapter-b") != gobreaker.StateOpen {
		t.Fatalf("expected breaker to open at failure threshold, got %v", r.State("adapter-b"))
	}
}

func TestRegistry_IsolatedPerRuntimeName(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	_, _ = r.Execute(ctx, "bad-runtime", func() (any, error) { return nil, errors.New("boom") })
	_, err := r.Execute(ctx, "good-runtime", func() (any, error) { return "ok", nil })

	if r.State("bad-runtime") != gobreaker.StateOpen {
		t.Fatalf("expected bad-runtime breaker to be open")
	}
	if err != nil {
		t.Fatalf("expected good-runtime to be unaffected by bad-runtime's failures, got %v", err)
	}
}
