package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaflow/internal/logging"
	"mediaflow/internal/workflow"
)

const maxHealthBody = 64 << 10

// HTTPDoer describes the HTTP client used for health probes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober answers health lookups by calling each service's health endpoint.
type Prober struct {
	registry ServiceRegistry
	client   HTTPDoer
	now      func() time.Time
	logger   *slog.Logger
}

// NewProber constructs a prober. A nil client falls back to http.DefaultClient;
// callers bound each probe through the context.
func NewProber(registry ServiceRegistry, client HTTPDoer, logger *slog.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{
		registry: registry,
		client:   client,
		now:      time.Now,
		logger:   logging.NewComponentLogger(logger, "health-probe"),
	}
}

// Health probes service once. The boolean is false when the service is not registered.
func (p *Prober) Health(ctx context.Context, service string) (workflow.HealthReport, bool) {
	endpoint, ok := p.registry.Lookup(service)
	if !ok {
		return workflow.HealthReport{}, false
	}
	report := workflow.HealthReport{Service: endpoint.Name, CheckedAt: p.now()}
	if report.Service == "" {
		report.Service = service
	}
	report.Status, report.Detail = p.probe(ctx, endpoint)
	p.logger.Debug("health probe finished",
		logging.String(logging.FieldService, report.Service),
		logging.String(logging.FieldStatus, string(report.Status)),
		logging.String("detail", report.Detail),
		logging.String(logging.FieldEventType, "health_probe"),
	)
	return report, true
}

func (p *Prober) probe(ctx context.Context, endpoint Endpoint) (workflow.HealthStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.HealthURL(), nil)
	if err != nil {
		return workflow.HealthUnknown, fmt.Sprintf("build health request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if endpoint.APIKey != "" {
		req.Header.Set("X-Api-Key", endpoint.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return workflow.HealthUnknown, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.HealthUnhealthy, fmt.Sprintf("http %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return workflow.HealthHealthy, fmt.Sprintf("http %d", resp.StatusCode)
	}
	for _, key := range []string{"overall_status", "status"} {
		if value, ok := payload[key].(string); ok {
			return workflow.ParseHealthStatus(value), key + "=" + value
		}
	}
	return workflow.HealthHealthy, fmt.Sprintf("http %d", resp.StatusCode)
}

// ProbeAll probes every named service concurrently and returns reports in the
// order given. Unregistered names report unknown.
func (p *Prober) ProbeAll(ctx context.Context, names []string) []workflow.HealthReport {
	reports := make([]workflow.HealthReport, len(names))
	var group errgroup.Group
	for i, name := range names {
		group.Go(func() error {
			report, ok := p.Health(ctx, name)
			if !ok {
				report = workflow.HealthReport{
					Service:   name,
					Status:    workflow.HealthUnknown,
					Detail:    "not registered",
					CheckedAt: p.now(),
				}
			}
			reports[i] = report
			return nil
		})
	}
	_ = group.Wait()
	return reports
}
