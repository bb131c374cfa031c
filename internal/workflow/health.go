package workflow

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaflow/internal/logging"
)

// HealthStatus is the overall status a health registry reports for a service.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Usable reports whether steps may be dispatched against a service in this state.
func (s HealthStatus) Usable() bool {
	return s == HealthHealthy || s == HealthDegraded
}

// ParseHealthStatus normalizes a reported status; unrecognized values become unknown.
func ParseHealthStatus(value string) HealthStatus {
	switch HealthStatus(strings.ToLower(strings.TrimSpace(value))) {
	case HealthHealthy, "ok", "up":
		return HealthHealthy
	case HealthDegraded, "warning":
		return HealthDegraded
	case HealthUnhealthy, "down", "error":
		return HealthUnhealthy
	default:
		return HealthUnknown
	}
}

// HealthReport is one registry answer for a service.
type HealthReport struct {
	Service   string
	Status    HealthStatus
	Detail    string
	CheckedAt time.Time
}

// HealthRegistry looks up the current health of a named service. The boolean
// is false when the service is not registered at all.
type HealthRegistry interface {
	Health(ctx context.Context, service string) (HealthReport, bool)
}

// HealthGate is the pre-flight check run before a dispatch starts.
type HealthGate struct {
	registry HealthRegistry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHealthGate constructs a gate over registry. timeout bounds each lookup; zero disables the bound.
func NewHealthGate(registry HealthRegistry, timeout time.Duration, logger *slog.Logger) *HealthGate {
	return &HealthGate{
		registry: registry,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "health-gate"),
	}
}

// Validate checks every distinct service referenced by exec. It returns an
// *UnhealthyError naming unhealthy and missing services, or nil.
func (g *HealthGate) Validate(ctx context.Context, exec *Execution) error {
	services := requiredServices(exec)
	if len(services) == 0 || g == nil || g.registry == nil {
		return nil
	}
	logger := g.logger.With(logging.String(logging.FieldWorkflowID, exec.ID()))

	var (
		mu        sync.Mutex
		unhealthy []string
		missing   []string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range services {
		group.Go(func() error {
			lookupCtx := groupCtx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				lookupCtx, cancel = context.WithTimeout(groupCtx, g.timeout)
				defer cancel()
			}
			report, ok := g.registry.Health(lookupCtx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case !ok:
				missing = append(missing, name)
				logger.Error("health check failed",
					logging.String(logging.FieldService, name),
					logging.String("detail", "service not registered"),
					logging.String(logging.FieldEventType, "health_missing"),
					logging.String(logging.FieldErrorHint, "add a [services."+name+"] table to the config"),
				)
			case !report.Status.Usable():
				unhealthy = append(unhealthy, name)
				logger.Error("health check failed",
					logging.String(logging.FieldService, name),
					logging.String(logging.FieldStatus, string(report.Status)),
					logging.String("detail", report.Detail),
					logging.String(logging.FieldEventType, "health_unhealthy"),
					logging.String(logging.FieldErrorHint, "check that "+name+" is running and reachable"),
				)
			default:
				logger.Debug("health check passed",
					logging.String(logging.FieldService, name),
					logging.String(logging.FieldStatus, string(report.Status)),
					logging.String(logging.FieldEventType, "health_passed"),
				)
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(unhealthy) == 0 && len(missing) == 0 {
		return nil
	}
	sort.Strings(unhealthy)
	sort.Strings(missing)
	return &UnhealthyError{Unhealthy: unhealthy, Missing: missing}
}

func requiredServices(exec *Execution) []string {
	seen := make(map[string]struct{})
	for _, step := range exec.steps {
		if step.Service != "" {
			seen[step.Service] = struct{}{}
		}
	}
	return sortedKeys(seen)
}
