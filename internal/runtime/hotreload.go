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
	"time"
)

// ConfigSource supplies the latest configuration blob plus a hash that
// changes whenever the blob does. HotReloadAdapter polls this, not the
// adapter, so unrelated config churn never triggers a rebuild.
type ConfigSource interface {
	Fetch(ctx context.Context) (config any, hash string, err error)
}

// AdapterFactory builds a fresh Adapter from the latest config blob.
type AdapterFactory func(config any) (Adapter, error)

// HotReloadAdapter wraps another adapter plus a config source. On each
// delegated call, if the poll interval has elapsed since the last check,
// it fetches the latest config and, on hash change, rebuilds the inner
// adapter via factory. The swap is atomic with respect to the next call —
// no in-flight operation observes a half-replaced adapter.
type HotReloadAdapter struct {
	mu           sync.RWMutex
	inner        Adapter
	source       ConfigSource
	factory      AdapterFactory
	pollInterval time.Duration
	lastPoll     time.Time
	lastHash     string
	name         string
}

// NewHotReloadAdapter wraps initial behind periodic config polling.
func NewHotReloadAdapter(name string, initial Adapter, initialHash string, source ConfigSource, factory AdapterFactory, pollInterval time.Duration) *HotReloadAdapter {
	return &HotReloadAdapter{
		inner: initial, source: source, factory: factory,
		pollInterval: pollInterval, lastHash: initialHash, name: name,
	}
}

// maybeReload snapshots the current adapter under a read lock and, only if
// the poll interval has elapsed, upgrades to a write lock to check the
// config hash and rebuild if it changed.
func (h *HotReloadAdapter) maybeReload(ctx context.Context) Adapter {
	h.mu.RLock()
	due := time.Since(h.lastPoll) >= h.pollInterval
	current := h.inner
	h.mu.RUnlock()

	if !due {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Re-check under the write lock: another goroutine may have already
	// reloaded while we waited.
	if time.Since(h.lastPoll) < h.pollInterval {
		return h.inner
	}
	h.lastPoll = time.Now()

	cfg, hash, err := h.source.Fetch(ctx)
	if err != nil || hash == h.lastHash {
		return h.inner
	}

	fresh, err := h.factory(cfg)
	if err != nil {
		return h.inner
	}
	h.inner = fresh
	h.lastHash = hash
	return h.inner
}

func (h *HotReloadAdapter) Name() string { return h.name }

func (h *HotReloadAdapter) Capabilities() Capabilities {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inner.Capabilities()
}

func (h *HotReloadAdapter) Constraints() Constraints {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inner.Constraints()
}

func (h *HotReloadAdapter) Submit(ctx context.Context, spec ContainerJobSpec) (string, error) {
	return h.maybeReload(ctx).Submit(ctx, spec)
}

func (h *HotReloadAdapter) Status(ctx context.Context, externalRef string) (JobStatus, error) {
	return h.maybeReload(ctx).Status(ctx, externalRef)
}

func (h *HotReloadAdapter) Cancel(ctx context.Context, externalRef string) (bool, error) {
	return h.maybeReload(ctx).Cancel(ctx, externalRef)
}

func (h *HotReloadAdapter) Logs(ctx context.Context, externalRef string) (<-chan string, error) {
	return h.maybeReload(ctx).Logs(ctx, externalRef)
}

func (h *HotReloadAdapter) Cleanup(ctx context.Context, externalRef string) error {
	return h.maybeReload(ctx).Cleanup(ctx, externalRef)
}

func (h *HotReloadAdapter) Health(ctx context.Context) (HealthStatus, error) {
	return h.maybeReload(ctx).Health(ctx)
}

var _ Adapter = (*HotReloadAdapter)(nil)
