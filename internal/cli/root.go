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

// Package cli assembles the conductor command-line client: a thin HTTP
// front end over conductord's operations API.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/conductor-core/conductor/internal/cli/commands/dlq"
	"github.com/conductor-core/conductor/internal/cli/commands/executions"
	"github.com/conductor-core/conductor/internal/cli/commands/schedules"
	"github.com/conductor-core/conductor/internal/cli/commands/workflows"
	"github.com/conductor-core/conductor/internal/cli/shared"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for conductor.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - durable workflow orchestration client",
		Long: `Conductor is a command-line client for conductord, the durable
execution runtime. It submits executions, runs workflows, manages schedules
and replays dead-lettered work over conductord's HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, jsonOut, dryRun := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(dryRun, "dry-run", false, "Validate the request without executing it")

	cmd.AddCommand(executions.NewCommand())
	cmd.AddCommand(workflows.NewCommand())
	cmd.AddCommand(schedules.NewCommand())
	cmd.AddCommand(dlq.NewCommand())

	return cmd
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
