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
	"fmt"
	"sync"
)

// Router maintains a registry of adapters indexed by name plus a default.
// Selection never inspects anything in the spec beyond the Runtime field.
type Router struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	defaultName string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own Name(). The first adapter
// registered becomes the default unless SetDefault is called explicitly.
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if r.defaultName == "" {
		r.defaultName = a.Name()
	}
}

// SetDefault designates which registered adapter name is used when a spec
// carries no explicit Runtime.
func (r *Router) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("runtime: cannot set default to unregistered adapter %q", name)
	}
	r.defaultName = name
	return nil
}

// Select resolves an adapter from spec.Runtime, falling back to the
// default when the field is empty.
func (r *Router) Select(spec ContainerJobSpec) (Adapter, error) {
	name := spec.Runtime
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("runtime: no adapter registered for %q", name)
	}
	return a, nil
}

// Get returns the adapter registered under name.
func (r *Router) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns every registered adapter name.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
