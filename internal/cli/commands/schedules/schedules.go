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

// Package schedules implements the "conductor schedules" command group, a
// thin client over conductord's /api/v1/schedules endpoints.
package schedules

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/conductor-core/conductor/internal/cli/shared"
)

// NewCommand creates the "schedules" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage recurring workflow and task schedules",
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules", nil)
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
		Use:   "get <schedule-id>",
		Short: "Show a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules/"+args[0], nil)
			body, err := shared.MakeAPIRequest("GET", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newCreateCmd() *cobra.Command {
	var (
		name            string
		targetType      string
		targetName      string
		cronExpr        string
		intervalSeconds int
		timezone        string
		maxInstances    int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched := map[string]any{
				"Name":            name,
				"Kind":            "cron",
				"TargetType":      targetType,
				"TargetName":      targetName,
				"CronExpression":  cronExpr,
				"IntervalSeconds": intervalSeconds,
				"Timezone":        timezone,
				"Enabled":         true,
				"MaxInstances":    maxInstances,
			}
			if cronExpr == "" {
				sched["Kind"] = "interval"
			}

			payload, err := json.Marshal(sched)
			if err != nil {
				return err
			}

			url := shared.BuildDaemonURL("/api/v1/schedules", nil)
			body, err := shared.MakeAPIRequest("POST", url, payload)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&targetType, "target-type", "workflow", "Target type: workflow or task")
	cmd.Flags().StringVar(&targetName, "target-name", "", "Workflow or task name to run")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression, mutually exclusive with --interval")
	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "Fixed interval in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone for cron evaluation")
	cmd.Flags().IntVar(&maxInstances, "max-instances", 1, "Maximum concurrent instances of this schedule")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("target-name")

	return cmd
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <schedule-id>",
		Short: "Pause a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules/"+args[0]+"/pause", nil)
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <schedule-id>",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules/"+args[0]+"/resume", nil)
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <schedule-id>",
		Short: "Fire a schedule immediately, outside its normal cadence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules/"+args[0]+"/trigger", nil)
			body, err := shared.MakeAPIRequest("POST", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := shared.BuildDaemonURL("/api/v1/schedules/"+args[0], nil)
			body, err := shared.MakeAPIRequest("DELETE", url, nil)
			if err != nil {
				return err
			}
			return shared.EmitResult(body)
		},
	}
}
