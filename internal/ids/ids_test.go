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

package ids

import (
	"sort"
	"testing"
)

func TestNewExecutionID_Sortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewExecutionID()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids are not generated in lexicographic order at index %d", i)
		}
	}
}

func TestNewExecutionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewExecutionID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSpecHash_Deterministic(t *testing.T) {
	type spec struct {
		Name string
		Env  map[string]string
	}
	a := spec{Name: "job", Env: map[string]string{"A": "1", "B": "2"}}
	b := spec{Name: "job", Env: map[string]string{"B": "2", "A": "1"}}

	ha, err := SpecHash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := SpecHash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected equal specs with differently-ordered maps to hash identically, got %s and %s", ha, hb)
	}
}

func TestSpecHash_Sensitive(t *testing.T) {
	ha, _ := SpecHash(map[string]any{"name": "a"})
	hb, _ := SpecHash(map[string]any{"name": "b"})
	if ha == hb {
		t.Fatalf("expected different specs to hash differently")
	}
}
