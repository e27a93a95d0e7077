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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/conductor-core/conductor/internal/config"
	"github.com/conductor-core/conductor/internal/log"
)

// RunOptions configures one conductord process invocation.
type RunOptions struct {
	Version      string
	Commit       string
	BuildDate    string
	ConfigPath   string
	WorkflowsDir string
}

// Run loads configuration, assembles the daemon and blocks until it's
// signalled to shut down. This is cmd/conductord's entire main body.
func Run(opts RunOptions) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		return fmt.Errorf("load config: %w", err)
	}

	d, err := New(cfg, Options{
		Version:      opts.Version,
		Commit:       opts.Commit,
		BuildDate:    opts.BuildDate,
		WorkflowsDir: opts.WorkflowsDir,
	})
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("received signal %v, shutting down...\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}
