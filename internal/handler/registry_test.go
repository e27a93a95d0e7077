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

package handler

import (
	"context"
	"testing"
)

func TestParse_DefaultsBareNameToTaskKind(t *testing.T) {
	kind, name := Parse("ingest")
	if kind != DefaultKind || name != "ingest" {
		t.Fatalf("expected (task, ingest), got (%s, %s)", kind, name)
	}
}

func TestParse_RespectsExplicitKind(t *testing.T) {
	kind, name := Parse("workflow:daily_refresh")
	if kind != "workflow" || name != "daily_refresh" {
		t.Fatalf("expected (workflow, daily_refresh), got (%s, %s)", kind, name)
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	r := New()
	r.RegisterTask("echo", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return params, nil
	})

	fn, ok := r.Resolve("echo")
	if !ok {
		t.Fatalf("expected bare-name resolution against default kind to succeed")
	}
	out, err := fn(context.Background(), map[string]any{"x": 1})
	if err != nil || out["x"] != 1 {
		t.Fatalf("unexpected handler output: %+v, %v", out, err)
	}

	if _, ok := r.Resolve("workflow:echo"); ok {
		t.Fatalf("expected no handler under a different kind")
	}
}
