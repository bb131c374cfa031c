package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and the workflow catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if !ctx.configSeen {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			catalog, err := ctx.catalog()
			if err != nil {
				return fmt.Errorf("workflow catalog: %w", err)
			}
			if err := catalog.CheckServices(cfg.ServiceNames()); err != nil {
				return fmt.Errorf("workflow catalog: %w", err)
			}
			fmt.Fprintf(out, "Catalog: %s (%d workflows)\n", catalog.Source(), len(catalog.Types()))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
