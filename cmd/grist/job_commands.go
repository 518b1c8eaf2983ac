package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grist/internal/orchestrator"
	"grist/internal/store"
)

// statusList renders the known job statuses for flag help text.
func statusList() string {
	statuses := store.AllJobStatuses()
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	return strings.Join(names, ", ")
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage extraction jobs",
	}
	cmd.AddCommand(newJobCreateCommand(ctx))
	cmd.AddCommand(newJobListCommand(ctx))
	cmd.AddCommand(newJobStatusCommand(ctx))
	cmd.AddCommand(newJobCancelCommand(ctx))
	return cmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <document-id>",
		Short: "Queue an extraction job for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				job, err := orch.CreateJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (status %s)\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.JobFilter{Limit: limitFlag}
			if statusFlag != "" {
				status, ok := store.ParseJobStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filter.Status = status
			}
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				jobs, err := orch.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						shortID(job.DocumentID),
						string(job.Status),
						formatProgress(job.Progress),
						fmt.Sprintf("%d", job.Attempts),
						formatTime(job.CreatedAt),
						truncate(orDash(job.ErrorMessage), 48),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Job", "Document", "Status", "Progress", "Attempts", "Created", "Error"},
					rows, 4, 5))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status ("+statusList()+")")
	cmd.Flags().IntVar(&limitFlag, "limit", 50, "Maximum number of jobs to list")
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				job, err := orch.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:          %s\n", job.ID)
				fmt.Fprintf(out, "Document:     %s\n", job.DocumentID)
				fmt.Fprintf(out, "Status:       %s\n", job.Status)
				fmt.Fprintf(out, "Progress:     %s\n", formatProgress(job.Progress))
				fmt.Fprintf(out, "Attempts:     %d\n", job.Attempts)
				fmt.Fprintf(out, "Cancel asked: %s\n", yesNo(job.CancelRequested))
				fmt.Fprintf(out, "Created:      %s\n", formatTime(job.CreatedAt))
				if job.CompletedAt != nil {
					fmt.Fprintf(out, "Completed:    %s\n", formatTime(*job.CompletedAt))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:        %s\n", job.ErrorMessage)
				}
				return nil
			})
		},
	}
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				job, err := orch.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				switch job.Status {
				case store.JobCanceled:
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s canceled.\n", job.ID)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s; the worker will stop at its next checkpoint.\n", job.ID)
				}
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
