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

// Package breaker places a three-state circuit breaker per runtime name
// around adapter calls, so one misbehaving runtime cannot deny traffic to
// healthy ones. Breakers live at the adapter call site, not at the job
// engine facade — see the registry's per-name indexing below.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Settings configures a single breaker's thresholds.
type Settings struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	RecoveryTimeout  time.Duration
}

// DefaultSettings mirror conservative defaults for adapter calls: five
// consecutive failures trips the breaker, two consecutive successes in
// half-open closes it again, with a 30 second cooldown.
var DefaultSettings = Settings{FailureThreshold: 5, SuccessThreshold: 2, RecoveryTimeout: 30 * time.Second}

// Registry indexes breakers by runtime name, creating them lazily on first
// use with shared Settings.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates a registry that lazily builds breakers with settings.
func NewRegistry(settings Settings) *Registry {
	return &Registry{settings: settings, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.settings.SuccessThreshold,
		Timeout:     r.settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.settings.FailureThreshold
		},
	})
	r.breakers[name] = b
	return b
}

// Execute runs fn through the named runtime's breaker. When the breaker is
// open, fn is never called and gobreaker.ErrOpenState is returned.
func (r *Registry) Execute(ctx context.Context, runtimeName string, fn func() (any, error)) (any, error) {
	return r.get(runtimeName).Execute(fn)
}

// State reports the current three-state value (closed/open/half-open) for
// a runtime name, primarily for health/diagnostics surfaces.
func (r *Registry) State(runtimeName string) gobreaker.State {
	return r.get(runtimeName).State()
}

// Names returns every runtime name a breaker has been created for.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	return names
}
