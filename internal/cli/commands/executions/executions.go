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

// Package executions implements the "conductor executions" command group,
// a thin client over conductord's /api/v1/executions endpoints.
package executions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conductor-core/conductor/internal/cli/shared"
)

// NewCommand creates the "executions" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"exec"},
		Short:   "Inspect and control ledger executions",
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newRetryCmd())

	return cmd
}

func newListCmd() *cobra.Command {
	var (
		workflow string
		status   string
		lane     string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{"limit": strconv.Itoa(limit), "offset": strconv.Itoa(offset)}
			if workflow != "" {
				params["workflow"] = workflow
			}
			if status != "" {
				params["status"] = status
			}
			if lane != "" {
				params["lane"] = lane
			}
			url := shared.BuildDaemonURL("/api/v1/executions", params)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Filter by workflow or operation name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&lane, "lane", "", "Filter by concurrency lane")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Row offset")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show a single execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/executions/"+args[0], nil)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newSubmitCmd() *cobra.Command {
	var (
		name    string
		image   string
		command string
		env     []string
		runtime string
		timeout int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new container job execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			envMap := map[string]string{}
			for _, kv := range env {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				envMap[parts[0]] = parts[1]
			}

			spec := map[string]any{
				"Name":           name,
				"Image":          image,
				"Runtime":        runtime,
				"Env":            envMap,
				"TimeoutSeconds": timeout,
			}
			if command != "" {
				spec["Command"] = strings.Fields(command)
			}

			payload, err := json.Marshal(spec)
			if err != nil {
				return err
			}

			url := shared.BuildDaemonURL("/api/v1/executions", dryRunParams())
			body, err := shared.MakeAPIRequest("POST", url, payload)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&image, "image", "", "Container image")
	cmd.Flags().StringVar(&command, "command", "", "Command to run, space separated")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment variable KEY=VALUE, repeatable")
	cmd.Flags().StringVar(&runtime, "runtime", "", "Explicit runtime adapter name")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds, 0 for adapter default")
	cmd.MarkFlagRequired("image")

	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running or queued execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/executions/"+args[0]+"/cancel", dryRunParams())
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <execution-id>",
		Short: "Resubmit a failed execution as a new attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/executions/"+args[0]+"/retry", dryRunParams())
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func dryRunParams() map[string]string {
	if shared.GetDryRun() {
		return map[string]string{"dry_run": "true"}
	}
	return nil
}
