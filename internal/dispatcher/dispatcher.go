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

// Package dispatcher is the background worker loop: it polls the ledger for
// pending executions, claims a disjoint batch per tick, and runs each
// claimed row's handler under a bounded pool.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/conductor-core/conductor/internal/handler"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/storage"
	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
)

// Config tunes the poll loop.
type Config struct {
	PollInterval   time.Duration
	MaxConcurrency int
	BatchSize      int
}

// DefaultConfig mirrors conservative defaults for a single-process worker.
var DefaultConfig = Config{PollInterval: 500 * time.Millisecond, MaxConcurrency: 8, BatchSize: 8}

// Stats are the per-worker counters the spec requires be observable.
type Stats struct {
	TotalProcessed int64
	TotalCompleted int64
	TotalFailed    int64
	ActiveCount    int
	LastHeartbeat  time.Time
	MaxConcurrency int
}

// Dispatcher claims and runs executions.
type Dispatcher struct {
	conn     storage.Conn
	ledger   *ledger.Ledger
	handlers *handler.Registry
	cfg      Config

	mu      sync.Mutex
	stats   Stats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	cancelMu  sync.Mutex
	cancels   map[string]context.CancelFunc
	activeSem chan struct{}
}

// New builds a Dispatcher against an already-migrated connection.
func New(conn storage.Conn, led *ledger.Ledger, handlers *handler.Registry, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig.MaxConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	return &Dispatcher{
		conn:      conn,
		ledger:    led,
		handlers:  handlers,
		cfg:       cfg,
		cancels:   make(map[string]context.CancelFunc),
		activeSem: make(chan struct{}, cfg.MaxConcurrency),
		stats:     Stats{MaxConcurrency: cfg.MaxConcurrency},
	}
}

// Start launches the poll loop in a goroutine. Calling Start twice is a
// no-op until a prior Stop completes.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.loop(ctx)
}

// Stop sets the running flag false, lets in-flight handlers finish, and
// blocks until the pool has drained.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	<-d.doneCh
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.ActiveCount = len(d.activeSem)
	return s
}

// CancelExecution requests cooperative cancellation of a running execution
// via its context token. It has no effect on pending/queued rows, which are
// cancelled directly through ledger.UpdateStatus instead.
func (d *Dispatcher) CancelExecution(id string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	cancel, ok := d.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-d.stopCh:
			wg.Wait()
			return
		case <-ticker.C:
			d.poll(ctx, &wg)
		}
	}
}

// poll claims a bounded batch of pending executions and launches one
// goroutine per claimed row. It must never hold a database transaction
// across the blocking claim wait — each claim is its own short statement.
func (d *Dispatcher) poll(ctx context.Context, wg *sync.WaitGroup) {
	d.mu.Lock()
	active := len(d.activeSem)
	budget := d.cfg.MaxConcurrency - active
	d.mu.Unlock()
	if budget <= 0 {
		return
	}
	batch := d.cfg.BatchSize
	if batch > budget {
		batch = budget
	}

	claimed, err := d.claim(ctx, batch)
	if err != nil {
		return
	}

	for _, id := range claimed {
		select {
		case d.activeSem <- struct{}{}:
		default:
			// Pool saturated between the budget check and dispatch; the row
			// stays running and will be picked up by cancellation/requeue
			// tooling if the process restarts before it completes.
		}
		wg.Add(1)
		go func(execID string) {
			defer wg.Done()
			defer func() { <-d.activeSem }()
			d.run(ctx, execID)
		}(id)
	}
}

// claim runs the conditional-update-with-re-read protocol: select candidate
// ids outside any long-held lock, then win each one with a status-guarded
// UPDATE. A zero rows-affected result means another worker won the race;
// the row is simply skipped rather than retried, keeping claimed sets
// disjoint across concurrent pollers without relying on a SKIP LOCKED
// clause the storage abstraction does not expose uniformly across backends.
func (d *Dispatcher) claim(ctx context.Context, batch int) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id FROM executions WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(ledger.StatusPending), batch)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "dispatcher: select candidates")
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, conductorerrors.Wrap(err, "dispatcher: scan candidate")
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []string
	for _, id := range candidates {
		res, err := d.conn.ExecContext(ctx, `
			UPDATE executions SET status = ? WHERE id = ? AND status = ?`,
			string(ledger.StatusRunning), id, string(ledger.StatusPending))
		if err != nil {
			continue
		}
		n, _ := res.RowsAffected()
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// run executes the execution protocol for one claimed row.
func (d *Dispatcher) run(ctx context.Context, execID string) {
	d.mu.Lock()
	d.stats.TotalProcessed++
	d.stats.LastHeartbeat = time.Now()
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancelMu.Lock()
	d.cancels[execID] = cancel
	d.cancelMu.Unlock()
	defer func() {
		cancel()
		d.cancelMu.Lock()
		delete(d.cancels, execID)
		d.cancelMu.Unlock()
	}()

	exec, err := d.ledger.GetExecution(runCtx, execID)
	if err != nil || exec == nil {
		return
	}

	if err := d.ledger.RecordEvent(runCtx, execID, ledger.EventStarted, nil); err != nil {
		return
	}
	// The claim UPDATE sets only status, so started_at is stamped here;
	// the IS NULL guard keeps a re-run of this method from rewriting it.
	now := time.Now().UTC()
	_, _ = d.conn.ExecContext(runCtx, "UPDATE executions SET started_at = ? WHERE id = ? AND started_at IS NULL",
		now.Format(time.RFC3339Nano), execID)

	fn, ok := d.handlers.Resolve(exec.Workflow)
	if !ok {
		d.fail(runCtx, execID, (&handler.ErrUnknownOperation{Identifier: exec.Workflow}).Error())
		return
	}

	result, err := fn(runCtx, exec.Params)
	if err != nil {
		d.fail(runCtx, execID, err.Error())
		return
	}

	if err := d.ledger.UpdateStatus(runCtx, execID, ledger.StatusCompleted, result, ""); err != nil {
		return
	}

	d.mu.Lock()
	d.stats.TotalCompleted++
	d.mu.Unlock()
}

func (d *Dispatcher) fail(ctx context.Context, execID, message string) {
	if err := d.ledger.UpdateStatus(ctx, execID, ledger.StatusFailed, nil, message); err != nil {
		return
	}
	d.mu.Lock()
	d.stats.TotalFailed++
	d.mu.Unlock()
}
