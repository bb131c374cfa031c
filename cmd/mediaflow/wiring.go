package main

import (
	"context"
	"log/slog"
	"net/http"

	"mediaflow/internal/adapter"
	"mediaflow/internal/audit"
	"mediaflow/internal/config"
	"mediaflow/internal/registry"
	"mediaflow/internal/workflow"
)

type managerSettings struct {
	autoRetry   bool
	skipHealth  bool
	skipHistory bool
}

// buildManager wires the manager to the configured services, audit lenses and
// history store.
func (c *commandContext) buildManager(ctx context.Context, cfg *config.Config, logger *slog.Logger, settings managerSettings) (*workflow.Manager, error) {
	reg := registry.NewStatic(cfg)
	client := &http.Client{}

	opts := []workflow.ManagerOption{workflow.WithAutoRetry(settings.autoRetry)}
	if !settings.skipHealth {
		opts = append(opts, workflow.WithHealthRegistry(registry.NewProber(reg, client, logger)))
	}
	if cfg.Audit.Enabled {
		hook, err := audit.NewHook(audit.NewFramework(), cfg.Audit)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithAuditHooks(hook))
	}
	if cfg.History.Enabled && !settings.skipHistory {
		store, err := c.historyStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithRecorder(store))
	}

	httpAdapter := adapter.NewHTTP(reg,
		adapter.WithHTTPClient(client),
		adapter.WithErrorBodyLimit(cfg.Workflow.ErrorBodyLimit),
		adapter.WithLogger(logger),
	)
	return workflow.NewManager(cfg, httpAdapter, logger, opts...), nil
}
