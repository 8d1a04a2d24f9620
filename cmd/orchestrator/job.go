package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newJobCmd builds the "job" command tree: submit/list/cancel against
// the Admin API, the same manual-submission path the Dispatcher
// services (spec.md §2's "manually submitted jobs" input).
func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs on a running orchestrator",
	}
	cmd.AddCommand(newJobSubmitCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCancelCmd())
	return cmd
}

func addrFlags(cmd *cobra.Command) (*string, *string) {
	baseURL := cmd.Flags().String("admin-url", "http://localhost:8767", "Admin API base URL")
	token := cmd.Flags().String("token", "", "bearer token for Admin API auth")
	return baseURL, token
}

func newJobSubmitCmd() *cobra.Command {
	var workflowID, priority, idempotencyKey, targetRobot string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new job for a published workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("admin-url")
			token, _ := cmd.Flags().GetString("token")
			client := newAPIClient(baseURL, token)

			req := map[string]any{
				"workflow_id":     workflowID,
				"priority":        priority,
				"idempotency_key": idempotencyKey,
				"target_robot_id": targetRobot,
			}
			var job map[string]any
			if err := client.do(cmd.Context(), "POST", "/admin/jobs", req, &job); err != nil {
				return err
			}
			return printJSON(job)
		},
	}
	addrFlags(cmd)
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id to execute")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority: low, normal, high, critical")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "deduplication key")
	cmd.Flags().StringVar(&targetRobot, "robot", "", "pin the job to a specific robot id")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func newJobListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("admin-url")
			token, _ := cmd.Flags().GetString("token")
			client := newAPIClient(baseURL, token)

			path := "/admin/jobs"
			if status != "" {
				path += "?status=" + status
			}
			var jobs []map[string]any
			if err := client.do(cmd.Context(), "GET", path, nil, &jobs); err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}
	addrFlags(cmd)
	cmd.Flags().StringVar(&status, "status", "", "filter by job status")
	return cmd
}

func newJobCancelCmd() *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("admin-url")
			token, _ := cmd.Flags().GetString("token")
			client := newAPIClient(baseURL, token)

			req := map[string]any{"force": force, "reason": reason}
			var job map[string]any
			path := fmt.Sprintf("/admin/jobs/%s/cancel", args[0])
			if err := client.do(cmd.Context(), "POST", path, req, &job); err != nil {
				return err
			}
			return printJSON(job)
		},
	}
	addrFlags(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "skip the cancellation grace period")
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason for the cancellation")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
