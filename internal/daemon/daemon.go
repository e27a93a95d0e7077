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

// Package daemon assembles conductord: the storage-backed ledger, DLQ,
// manifest and alert stores, the runtime router and job engine, the
// workflow runtime, the dispatcher worker loop and the schedule runner,
// all wired behind one operations facade and exposed over HTTP.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conductor-core/conductor/internal/alerts"
	"github.com/conductor-core/conductor/internal/breaker"
	"github.com/conductor-core/conductor/internal/concurrency"
	"github.com/conductor-core/conductor/internal/config"
	"github.com/conductor-core/conductor/internal/containerbridge"
	"github.com/conductor-core/conductor/internal/dispatcher"
	"github.com/conductor-core/conductor/internal/dlq"
	"github.com/conductor-core/conductor/internal/handler"
	"github.com/conductor-core/conductor/internal/health"
	"github.com/conductor-core/conductor/internal/jobengine"
	"github.com/conductor-core/conductor/internal/ledger"
	internallog "github.com/conductor-core/conductor/internal/log"
	"github.com/conductor-core/conductor/internal/manifest"
	"github.com/conductor-core/conductor/internal/operations"
	"github.com/conductor-core/conductor/internal/retention"
	"github.com/conductor-core/conductor/internal/runtime"
	"github.com/conductor-core/conductor/internal/scheduler"
	"github.com/conductor-core/conductor/internal/storage"
	"github.com/conductor-core/conductor/internal/workflow"
)

// Options carries build metadata and the one override a config file can't
// express cleanly: where workflow definitions live on disk.
type Options struct {
	Version      string
	Commit       string
	BuildDate    string
	WorkflowsDir string
}

// Daemon is the conductord process: every subsystem SPEC_FULL.md names,
// wired together and exposed over one HTTP listener.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	conn storage.Conn

	ledger   *ledger.Ledger
	dlq      *dlq.Queue
	manifest *manifest.Manifest
	alerts   *alerts.Store
	guard    *concurrency.Guard

	router  *runtime.Router
	breaker *breaker.Registry
	jobs    *jobengine.Engine
	bridge  *containerbridge.Bridge

	handlers      *handler.Registry
	workflows     *workflow.Registry
	planner       *workflow.Planner
	workflowStore *workflow.Store

	schedulerStore *scheduler.Store
	schedulerRun   *scheduler.Scheduler

	dispatcher *dispatcher.Dispatcher
	ops        *operations.Facade
	health     *health.Aggregator

	server *http.Server
	ln     net.Listener

	retentionStop chan struct{}
	retentionDone chan struct{}

	mu      sync.Mutex
	started bool
}

// New assembles every subsystem from cfg but starts nothing. Call Start to
// bring the dispatcher, scheduler, retention loop and HTTP listener up.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	conn, info, err := storage.Open(cfg.Backend.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage backend: %w", err)
	}
	logger.Info("storage backend opened", slog.String("driver", info.Driver))

	led := ledger.New(conn)
	dlqQueue := dlq.New(conn)
	manifestStore := manifest.New(conn)
	alertStore := alerts.New(conn)
	guard := concurrency.New(conn)

	router := runtime.NewRouter()
	localAdapter := runtime.NewLocalProcessAdapter()
	router.Register(localAdapter)

	breakerRegistry := breaker.NewRegistry(breaker.DefaultSettings)
	jobs := jobengine.New(router, led, breakerRegistry)
	bridge := containerbridge.New(jobs, containerbridge.Config{})

	workflows, err := workflow.LoadDir(opts.WorkflowsDir)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load workflow definitions: %w", err)
	}
	registry := workflow.NewRegistry()
	for _, w := range workflows {
		registry.Register(w)
	}
	logger.Info("workflow definitions loaded", slog.Int("count", len(workflows)))

	handlers := handler.New()
	planner := workflow.NewPlanner(newOperationResolver(registry, handlers))
	workflowStore := workflow.NewStore(conn)
	schedulerStore := scheduler.NewStore(conn)

	ops := operations.New(jobs, led, schedulerStore, dlqQueue, manifestStore, alertStore)
	ops.WithWorkflowRuntime(registry, planner, bridge, lambdaResolverFor(handlers), workflowStore)

	// Every registered workflow gets a "workflow:<name>" task handler so a
	// scheduled or dispatched run of it goes through the same claim/poll
	// path as any other operation, and ultimately through RunWorkflow so
	// it gets a durable run/step record.
	for _, w := range workflows {
		name := w.Name
		handlers.Register("workflow", name, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			result := ops.RunWorkflow(ctx, operations.OperationContext{CallerID: "scheduler"}, name, params)
			if !result.Success {
				return nil, fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message)
			}
			return map[string]any{"status": string(result.Data.Status), "run_id": result.Data.RunID}, nil
		})
	}

	trigger := scheduler.NewLedgerTrigger(led)
	schedulerRun := scheduler.New(schedulerStore, guard, trigger, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		LeaseTTL:     cfg.Scheduler.LeaseTTL,
	})
	ops.WithSchedulerRunner(schedulerRun)

	disp := dispatcher.New(conn, led, handlers, dispatcher.Config{
		PollInterval:   cfg.Dispatcher.PollInterval,
		MaxConcurrency: cfg.Dispatcher.MaxConcurrency,
		BatchSize:      cfg.Dispatcher.BatchSize,
	})

	aggregator := health.New(cfg.Observability.ServiceName, opts.Version)
	aggregator.Register(health.StorageCheck(conn))
	aggregator.Register(health.AdapterCheck(localAdapter, true))
	aggregator.Register(health.DispatcherCheck(disp, 5*cfg.Dispatcher.PollInterval+10*time.Second))

	return &Daemon{
		cfg:            cfg,
		opts:           opts,
		logger:         logger,
		conn:           conn,
		ledger:         led,
		dlq:            dlqQueue,
		manifest:       manifestStore,
		alerts:         alertStore,
		guard:          guard,
		router:         router,
		breaker:        breakerRegistry,
		jobs:           jobs,
		bridge:         bridge,
		handlers:       handlers,
		workflows:      registry,
		planner:        planner,
		workflowStore:  workflowStore,
		schedulerStore: schedulerStore,
		schedulerRun:   schedulerRun,
		dispatcher:     disp,
		ops:            ops,
		health:         aggregator,
	}, nil
}

// Start brings every background loop up and serves HTTP until ctx is
// cancelled or the listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.dispatcher.Start(ctx)
	d.schedulerRun.Start(ctx)

	d.retentionStop = make(chan struct{})
	d.retentionDone = make(chan struct{})
	go d.retentionLoop(ctx)

	ln, err := net.Listen("tcp", d.cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Listen.Address, err)
	}
	d.ln = ln

	d.server = &http.Server{
		Handler:      d.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.logger.Info("conductord starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every background loop and drains the HTTP server within
// the context's deadline.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	d.dispatcher.Stop()
	d.schedulerRun.Stop()

	if d.retentionStop != nil {
		close(d.retentionStop)
		<-d.retentionDone
	}

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error("http server shutdown error", slog.Any("error", err))
		}
	}

	if err := d.conn.Close(); err != nil {
		d.logger.Error("storage close error", slog.Any("error", err))
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// retentionLoop purges expired rows once an hour, logging a summary each
// pass so an operator can see retention actually ran without scraping the
// affected tables directly.
func (d *Daemon) retentionLoop(ctx context.Context) {
	defer close(d.retentionDone)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.retentionStop:
			return
		case <-ticker.C:
			report := retention.PurgeAll(ctx, d.conn, d.cfg.Retention, time.Now())
			d.logger.Info("retention purge complete", slog.Any("report", report))
		}
	}
}

// operationResolver backs the planner's pre-flight existence check: a
// pipeline step must name an operation the container bridge can actually
// dispatch, a lambda step must name a registered handler.
type operationResolver struct {
	registry *workflow.Registry
	handlers *handler.Registry
}

func newOperationResolver(registry *workflow.Registry, handlers *handler.Registry) *operationResolver {
	return &operationResolver{registry: registry, handlers: handlers}
}

func (r *operationResolver) Exists(operationName string) bool {
	if _, ok := r.handlers.Resolve(operationName); ok {
		return true
	}
	// Pipeline steps dispatch through the container bridge, which accepts
	// any operation name and resolves its image at submit time, so a
	// pipeline reference is only invalid if it's empty.
	return operationName != ""
}

// lambdaResolverFor adapts a handler.Registry into the signature
// workflow.Dispatcher expects for a LAMBDA step, discarding the workflow
// Context handler.Func has no use for.
func lambdaResolverFor(handlers *handler.Registry) workflow.LambdaResolver {
	return func(ref string) (workflow.LambdaFunc, bool) {
		fn, ok := handlers.Resolve(ref)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, params map[string]any, _ workflow.Context) (any, error) {
			return fn(ctx, params)
		}, true
	}
}
