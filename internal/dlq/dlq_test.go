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

package dlq

import (
	"context"
	"testing"

	"github.com/conductor-core/conductor/internal/storage"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

func TestDLQ_RetryBound(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	dl, err := q.Add(ctx, "exec-1", "task:ingest", map[string]any{"a": 1}, "boom", 3)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := q.CanRetry(ctx, dl.ID)
		if err != nil {
			t.Fatalf("can retry: %v", err)
		}
		if !ok {
			t.Fatalf("expected retry %d to be allowed", i)
		}
		if err := q.MarkRetryAttempted(ctx, dl.ID); err != nil {
			t.Fatalf("mark attempted: %v", err)
		}
	}

	ok, err := q.CanRetry(ctx, dl.ID)
	if err != nil {
		t.Fatalf("can retry: %v", err)
	}
	if ok {
		t.Fatalf("expected dead letter to be un-retryable after exhausting max_retries")
	}
}

func TestDLQ_ResolveIsOneWay(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	dl, err := q.Add(ctx, "exec-1", "task:ingest", nil, "boom", 3)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := q.Resolve(ctx, dl.ID, "operator", "manual fix"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := q.Resolve(ctx, dl.ID, "operator", "again"); err == nil {
		t.Fatalf("expected second resolve to fail")
	}

	ok, err := q.CanRetry(ctx, dl.ID)
	if err != nil {
		t.Fatalf("can retry: %v", err)
	}
	if ok {
		t.Fatalf("expected resolved dead letter to be un-retryable")
	}
}

func TestDLQ_ListUnresolved(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Add(ctx, "exec-1", "task:a", nil, "boom", 3)
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	if _, err := q.Add(ctx, "exec-2", "task:b", nil, "boom", 3); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := q.Resolve(ctx, a.ID, "operator", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	unresolved, err := q.ListUnresolved(ctx, Filter{})
	if err != nil {
		t.Fatalf("list unresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].Workflow != "task:b" {
		t.Fatalf("expected exactly one unresolved dead letter (task:b), got %+v", unresolved)
	}

	count, err := q.CountUnresolved(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}
