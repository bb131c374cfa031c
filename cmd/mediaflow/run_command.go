package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"mediaflow/internal/templates"
	"mediaflow/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		inputs      []string
		userID      string
		noRetry     bool
		skipHealth  bool
		skipHistory bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-type>",
		Short: "Run a catalog workflow against the configured services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			catalog, err := ctx.catalog()
			if err != nil {
				return err
			}
			params, err := templates.ParseInputs(inputs)
			if err != nil {
				return err
			}
			exec, err := catalog.Instantiate(templates.Request{
				Type:   args[0],
				UserID: userID,
				Inputs: params,
			}, templates.DefaultsFromConfig(cfg))
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := ctx.buildManager(runCtx, cfg, logger, managerSettings{
				autoRetry:   !noRetry,
				skipHealth:  skipHealth,
				skipHistory: skipHistory,
			})
			if err != nil {
				return err
			}
			defer manager.Stop()

			if err := manager.Run(runCtx, exec); err != nil {
				return err
			}

			snap := exec.Snapshot()
			if jsonOutput {
				if err := writeJSON(cmd, snapshotJSON(snap)); err != nil {
					return err
				}
			} else {
				renderRun(cmd.OutOrStdout(), snap, shouldColorize(cmd.OutOrStdout()))
			}
			if snap.Status != workflow.StatusCompleted {
				return fmt.Errorf("workflow %s finished %s", snap.WorkflowID, snap.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Input parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User the workflow runs for")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "Do not re-enter failed workflows automatically")
	cmd.Flags().BoolVar(&skipHealth, "skip-health", false, "Skip the pre-flight service health gate")
	cmd.Flags().BoolVar(&skipHistory, "no-history", false, "Do not record the outcome in run history")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final snapshot as JSON")
	return cmd
}

func renderRun(out io.Writer, snap workflow.Snapshot, colorize bool) {
	fmt.Fprintf(out, "Workflow %s (%s)\n", snap.WorkflowID, displayWord(snap.Type))
	fmt.Fprintf(out, "Status:   %s\n", statusLabel(string(snap.Status), colorize))
	fmt.Fprintf(out, "Progress: %s\n", formatProgress(snap.Progress))
	if snap.RetryCount > 0 {
		fmt.Fprintf(out, "Retries:  %d/%d\n", snap.RetryCount, snap.MaxRetries)
	}
	if snap.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", snap.ErrorMessage)
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(snap.Steps))
	for _, step := range snap.Steps {
		rows = append(rows, []string{
			step.ID,
			step.Service,
			statusLabel(string(step.Status), colorize),
			yesNo(step.Required),
			strconv.Itoa(step.Attempts),
			formatDuration(step.Duration()),
			orDash(step.ErrorMessage),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Step", "Service", "Status", "Required", "Attempts", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))

	if len(snap.ContextData) > 0 {
		keys := make([]string, 0, len(snap.ContextData))
		for key := range snap.ContextData {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "\nContext:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s = %v\n", key, snap.ContextData[key])
		}
	}
}
