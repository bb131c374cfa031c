package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/history"
	"mediaflow/internal/workflow"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		statusFlag string
		typeFlag   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded workflow outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			opts := history.ListOptions{Limit: limit, Type: typeFlag}
			if value := strings.TrimSpace(statusFlag); value != "" {
				status, ok := workflow.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				opts.Status = status
			}
			store, err := ctx.historyStore(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No workflow runs recorded")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.WorkflowID,
					run.Type,
					statusLabel(string(run.Status), colorize),
					formatProgress(run.Progress),
					fmt.Sprintf("%d/%d", run.CompletedSteps, run.TotalSteps),
					strconv.Itoa(run.RetryCount),
					formatDuration(run.Duration()),
					formatTimestamp(run.RecordedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Type", "Status", "Progress", "Steps", "Retries", "Duration", "Recorded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only show runs with this status")
	cmd.Flags().StringVar(&typeFlag, "type", "", "Only show runs of this workflow type")

	cmd.AddCommand(newHistoryShowCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one recorded workflow outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.historyStore(cmd.Context())
			if err != nil {
				return err
			}
			run, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Workflow:   %s\n", run.WorkflowID)
			fmt.Fprintf(out, "Type:       %s\n", displayWord(run.Type))
			fmt.Fprintf(out, "User:       %s\n", orDash(run.UserID))
			fmt.Fprintf(out, "Status:     %s\n", statusLabel(string(run.Status), colorize))
			fmt.Fprintf(out, "Progress:   %s (%d/%d steps)\n", formatProgress(run.Progress), run.CompletedSteps, run.TotalSteps)
			fmt.Fprintf(out, "Retries:    %d/%d\n", run.RetryCount, run.MaxRetries)
			fmt.Fprintf(out, "Started:    %s\n", formatTimestamp(run.StartedAt))
			fmt.Fprintf(out, "Completed:  %s\n", formatTimestamp(run.CompletedAt))
			fmt.Fprintf(out, "Duration:   %s\n", formatDuration(run.Duration()))
			if len(run.FailedSteps) > 0 {
				fmt.Fprintf(out, "Failed:     %s\n", strings.Join(run.FailedSteps, ", "))
			}
			if run.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s (%s)\n", run.ErrorMessage, orDash(run.ErrorKind))
			}
			return nil
		},
	}
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded runs older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if days <= 0 {
				return errors.New("--older-than-days must be positive")
			}
			store, err := ctx.historyStore(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := store.Prune(cmd.Context(), timeNow().Add(-time.Duration(days)*24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 30, "Age threshold in days")
	return cmd
}
