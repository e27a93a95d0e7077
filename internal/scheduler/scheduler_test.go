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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conductor-core/conductor/internal/concurrency"
	"github.com/conductor-core/conductor/internal/storage"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTrigger) Trigger(ctx context.Context, sched Schedule) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sched.Name)
	return "exec-" + sched.Name, nil
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestEnv(t *testing.T) (*Store, *concurrency.Guard, storage.Conn) {
	t.Helper()
	conn, _, err := storage.Open("memory")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn), concurrency.New(conn), conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestFire_TriggersDueScheduleAndAdvancesNextRun(t *testing.T) {
	store, guard, _ := newTestEnv(t)
	ctx := context.Background()

	sched, err := store.Create(ctx, &Schedule{
		Name: "every-minute", TargetType: "workflow", TargetName: "ingest",
		Kind: KindCron, CronExpression: "* * * * *", Enabled: true, MaxInstances: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Force it due right now regardless of the real clock.
	if _, err := store.Advance(ctx, sched.ID, sched.Version, time.Time{}, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("force due: %v", err)
	}
	preFire, err := store.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get after forcing due: %v", err)
	}

	trigger := &recordingTrigger{}
	s := New(store, guard, trigger, Config{PollInterval: 20 * time.Millisecond, LeaseTTL: time.Second})
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(runCtx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return trigger.count() == 1 })

	updated, err := store.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !updated.NextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Fatalf("expected next run recomputed into the future-ish window, got %s", updated.NextRunAt)
	}
	if updated.Version != preFire.Version+1 {
		t.Fatalf("expected version incremented by one fire, got %d (pre-fire %d)", updated.Version, preFire.Version)
	}
}

// TestFire_MisfireSkipsTriggerAndRecordsMissed exercises a schedule whose
// due time fell far enough behind now that it's treated as a misfire: the
// grace period (60s) is well under the ten-minute gap, so the run is
// recorded as missed rather than fired late.
func TestFire_MisfireSkipsTriggerAndRecordsMissed(t *testing.T) {
	store, guard, conn := newTestEnv(t)
	ctx := context.Background()

	sched, err := store.Create(ctx, &Schedule{
		Name: "every-five-minutes", TargetType: "workflow", TargetName: "ingest",
		Kind: KindCron, CronExpression: "*/5 * * * *", Enabled: true,
		MaxInstances: 1, MisfireGraceSeconds: 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	staleDue := time.Now().Add(-10 * time.Minute)
	if _, err := store.Advance(ctx, sched.ID, sched.Version, time.Time{}, staleDue); err != nil {
		t.Fatalf("force stale due: %v", err)
	}
	preFire, err := store.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get after forcing due: %v", err)
	}

	trigger := &recordingTrigger{}
	s := New(store, guard, trigger, Config{PollInterval: 20 * time.Millisecond, LeaseTTL: time.Second})
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(runCtx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool {
		updated, err := store.Get(ctx, sched.ID)
		return err == nil && updated.Version == preFire.Version+1
	})

	if trigger.count() != 0 {
		t.Fatalf("expected misfired schedule never to trigger, got %d calls", trigger.count())
	}

	var status string
	err = conn.QueryRowContext(ctx, "SELECT status FROM schedule_runs WHERE schedule_id = ?", sched.ID).Scan(&status)
	if err != nil {
		t.Fatalf("query schedule_runs: %v", err)
	}
	if status != string(RunMissed) {
		t.Fatalf("expected missed run status, got %s", status)
	}
}

func TestStore_UpdateRecomputesNextRunAt(t *testing.T) {
	store, _, _ := newTestEnv(t)
	ctx := context.Background()

	sched, err := store.Create(ctx, &Schedule{
		Name: "nightly", TargetType: "workflow", TargetName: "ingest",
		Kind: KindCron, CronExpression: "0 0 * * *", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, sched.ID, &Schedule{
		TargetType: "workflow", TargetName: "ingest",
		Kind: KindInterval, IntervalSeconds: 30,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Kind != KindInterval || updated.IntervalSeconds != 30 {
		t.Fatalf("expected updated fields to persist, got %+v", updated)
	}
	if !updated.NextRunAt.Before(time.Now().Add(31 * time.Second)) {
		t.Fatalf("expected next_run_at recomputed from the new interval, got %s", updated.NextRunAt)
	}

	reloaded, err := store.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Kind != KindInterval {
		t.Fatalf("expected reload to reflect updated kind, got %s", reloaded.Kind)
	}
}

func TestStore_UpdateUnknownIDReturnsNotFound(t *testing.T) {
	store, _, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "missing", &Schedule{
		TargetType: "workflow", TargetName: "ingest", Kind: KindInterval, IntervalSeconds: 30,
	})
	if err == nil {
		t.Fatalf("expected not-found error for missing schedule")
	}
}

func TestListDue_ExcludesDisabledSchedules(t *testing.T) {
	store, _, _ := newTestEnv(t)
	ctx := context.Background()

	sched, err := store.Create(ctx, &Schedule{
		Name: "disabled-one", TargetType: "workflow", TargetName: "ingest",
		Kind: KindInterval, IntervalSeconds: 60, Enabled: false,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Advance(ctx, sched.ID, sched.Version, time.Time{}, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("force due: %v", err)
	}

	due, err := store.ListDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected disabled schedule excluded from due list, got %d", len(due))
	}
}
