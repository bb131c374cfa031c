package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/templates"
)

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List catalog workflow templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.catalog()
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			defaults := templates.DefaultsFromConfig(cfg)

			rows := make([][]string, 0, len(catalog.Types()))
			for _, kind := range catalog.Types() {
				tpl, _ := catalog.Get(kind)
				retries := defaults.MaxRetries
				if tpl.MaxRetries != nil {
					retries = *tpl.MaxRetries
				}
				rows = append(rows, []string{
					tpl.Type,
					strconv.Itoa(len(tpl.Steps)),
					strings.Join(tpl.Services(), ", "),
					orDash(strings.Join(tpl.RequiredInputs, ", ")),
					strconv.Itoa(retries),
					orDash(tpl.Description),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog: %s\n", catalog.Source())
			fmt.Fprintln(out, renderTable(
				[]string{"Type", "Steps", "Services", "Inputs", "Retries", "Description"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.AddCommand(newWorkflowShowCommand(ctx))
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-type>",
		Short: "Show the steps of one workflow template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.catalog()
			if err != nil {
				return err
			}
			tpl, ok := catalog.Get(args[0])
			if !ok {
				return fmt.Errorf("%w %q", templates.ErrUnknownType, args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", displayWord(tpl.Type))
			if tpl.Description != "" {
				fmt.Fprintf(out, "%s\n", tpl.Description)
			}
			fmt.Fprintln(out)

			rows := make([][]string, 0, len(tpl.Steps))
			for _, step := range tpl.WorkflowSteps() {
				method := step.Method
				if method == "" {
					method = "GET"
				}
				rows = append(rows, []string{
					step.ID,
					step.Service,
					strings.ToUpper(method) + " " + step.Endpoint,
					orDash(strings.Join(step.DependsOn, ", ")),
					yesNo(step.Required),
					strconv.Itoa(step.MaxRetries),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Step", "Service", "Call", "Depends On", "Required", "Retries"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}
