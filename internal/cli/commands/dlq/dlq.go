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

// Package dlq implements the "conductor dlq" command group, a thin client
// over conductord's /api/v1/dlq endpoints.
package dlq

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conductor-core/conductor/internal/cli/shared"
)

// NewCommand creates the "dlq" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered executions",
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

func newListCmd() *cobra.Command {
	var (
		workflow string
		limit    int
		offset   int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{"limit": strconv.Itoa(limit), "offset": strconv.Itoa(offset)}
			if workflow != "" {
				params["workflow"] = workflow
			}
			if all {
				params["unresolved"] = "false"
			}
			url := shared.BuildDaemonURL("/api/v1/dlq", params)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Filter by workflow or operation name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Row offset")
	cmd.Flags().BoolVar(&all, "all", false, "Include already-resolved dead letters")

	return cmd
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dead-letter-id>",
		Short: "Resubmit a dead letter as a brand new execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/dlq/"+args[0]+"/replay", nil)
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newResolveCmd() *cobra.Command {
	var (
		resolvedBy string
		note       string
	)

	cmd := &cobra.Command{
		Use:   "resolve <dead-letter-id>",
		Short: "Mark a dead letter resolved without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"resolved_by": resolvedBy, "note": note})
			if err != nil {
				return err
			}
			url := shared.BuildDaemonURL("/api/v1/dlq/"+args[0]+"/resolve", nil)
			body, err := shared.MakeAPIRequest("POST", url, payload)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringVar(&resolvedBy, "by", "", "Identity of the operator resolving this entry")
	cmd.Flags().StringVar(&note, "note", "", "Free-text note explaining the resolution")
	cmd.MarkFlagRequired("by")

	return cmd
}
