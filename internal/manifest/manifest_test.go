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

package manifest

import (
	"context"
	"testing"

	"github.com/conductor-core/conductor/internal/storage"
)

func newTestManifest(t *testing.T) *Manifest {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

func TestIsAtLeast_MonotonicAdvance(t *testing.T) {
	m := newTestManifest(t)
	ctx := context.Background()

	if _, err := m.Advance(ctx, "prices", "2026-01", "extracted", 1, 100, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := m.Advance(ctx, "prices", "2026-01", "validated", 2, 100, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}

	ok, err := m.IsAtLeast(ctx, "prices", "2026-01", 2)
	if err != nil {
		t.Fatalf("is at least: %v", err)
	}
	if !ok {
		t.Fatalf("expected partition to be at least at rank 2")
	}

	ok, err = m.IsAtLeast(ctx, "prices", "2026-01", 3)
	if err != nil {
		t.Fatalf("is at least: %v", err)
	}
	if ok {
		t.Fatalf("expected partition not to be at rank 3")
	}
}

func TestResetTo_PreservesHistory(t *testing.T) {
	m := newTestManifest(t)
	ctx := context.Background()

	if _, err := m.Advance(ctx, "prices", "2026-01", "extracted", 1, 100, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := m.Advance(ctx, "prices", "2026-01", "validated", 2, 100, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := m.ResetTo(ctx, "prices", "2026-01", "extracted", 1); err != nil {
		t.Fatalf("reset: %v", err)
	}

	history, err := m.History(ctx, "prices", "2026-01")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected reset_to to append rather than replace, got %d rows", len(history))
	}

	current, err := m.Current(ctx, "prices", "2026-01")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Stage != "validated" {
		t.Fatalf("expected current stage to still read the max rank (validated), got %s", current.Stage)
	}
}
