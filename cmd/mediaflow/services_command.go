package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"mediaflow/internal/registry"
	"mediaflow/internal/workflow"
)

func newServicesCommand(ctx *commandContext) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List configured services and optionally probe their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg := registry.NewStatic(cfg)
			names := reg.Names()

			var reports []workflow.HealthReport
			if probe {
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				probeCtx, cancel := context.WithTimeout(cmd.Context(), cfg.HealthCheckTimeout())
				defer cancel()
				prober := registry.NewProber(reg, &http.Client{}, logger)
				reports = prober.ProbeAll(probeCtx, names)
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			headers := []string{"Service", "Base URL", "Health Endpoint", "API Key"}
			if probe {
				headers = append(headers, "Health", "Detail")
			}
			rows := make([][]string, 0, len(names))
			for i, name := range names {
				endpoint, _ := reg.Lookup(name)
				row := []string{name, endpoint.BaseURL(), endpoint.HealthEndpoint, yesNo(endpoint.APIKey != "")}
				if probe {
					report := reports[i]
					row = append(row, statusLabel(string(report.Status), colorize), orDash(report.Detail))
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, nil))
			fmt.Fprintf(cmd.OutOrStdout(), "%d services configured\n", len(names))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&probe, "probe", "p", false, "Call each service's health endpoint")
	return cmd
}
