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

// Package workflows implements the "conductor workflows" command group, a
// thin client over conductord's /api/v1/workflows endpoints.
package workflows

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conductor-core/conductor/internal/cli/shared"
)

// NewCommand creates the "workflows" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and run registered workflows",
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/workflows", nil)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-name>",
		Short: "Show a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/workflows/"+args[0], nil)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newRunCmd() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "run <workflow-name>",
		Short: "Start a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paramMap := map[string]any{}
			for _, kv := range params {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --param %q, want key=value", kv)
				}
				paramMap[parts[0]] = parts[1]
			}

			var payload []byte
			if len(paramMap) > 0 {
				var err error
				payload, err = json.Marshal(paramMap)
				if err != nil {
					return err
				}
			}

			dryRun := map[string]string(nil)
			if shared.GetDryRun() {
				dryRun = map[string]string{"dry_run": "true"}
			}

			url := shared.BuildDaemonURL("/api/v1/workflows/"+args[0]+"/run", dryRun)
			body, err := shared.MakeAPIRequest("POST", url, payload)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "Workflow input key=value, repeatable")

	return cmd
}
