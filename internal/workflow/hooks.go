package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"mediaflow/internal/logging"
)

// Finding is one observation returned by an audit hook.
type Finding struct {
	Lens     string
	Severity string
	Message  string
}

// AuditHook observes dispatch at layer boundaries. Hooks receive read-only
// snapshots, run on their own goroutine and never influence control flow.
type AuditHook interface {
	BeforeDispatch(ctx context.Context, snap Snapshot) []Finding
	AfterDispatch(ctx context.Context, snap Snapshot) []Finding
}

type hookPoint string

const (
	hookBefore hookPoint = "before_dispatch"
	hookAfter  hookPoint = "after_dispatch"
)

// hookRunner fires hooks asynchronously and lets owners wait for stragglers.
type hookRunner struct {
	hooks  []AuditHook
	logger *slog.Logger
	wg     sync.WaitGroup
}

func (r *hookRunner) fire(ctx context.Context, point hookPoint, exec *Execution) {
	if r == nil || len(r.hooks) == 0 {
		return
	}
	snap := exec.Snapshot()
	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range r.hooks {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logging.WarnWithContext(r.logger, "audit hook panicked; findings dropped", "audit_hook_panic",
						logging.String(logging.FieldWorkflowID, snap.WorkflowID),
						logging.String("hook_point", string(point)),
						logging.String("panic", fmt.Sprint(rec)),
						logging.String(logging.FieldImpact, "audit findings for this layer are missing"),
						logging.String(logging.FieldErrorHint, "inspect the audit hook implementation"),
					)
				}
			}()
			var findings []Finding
			switch point {
			case hookBefore:
				findings = hook.BeforeDispatch(hookCtx, snap)
			case hookAfter:
				findings = hook.AfterDispatch(hookCtx, snap)
			}
			r.log(snap, point, findings)
		}()
	}
}

func (r *hookRunner) log(snap Snapshot, point hookPoint, findings []Finding) {
	for _, finding := range findings {
		attrs := []logging.Attr{
			logging.String(logging.FieldWorkflowID, snap.WorkflowID),
			logging.String("hook_point", string(point)),
			logging.String("lens", finding.Lens),
			logging.String("severity", finding.Severity),
			logging.String(logging.FieldEventType, "audit_finding"),
		}
		switch finding.Severity {
		case "critical", "high", "warning":
			r.logger.Warn(finding.Message, logging.Args(attrs...)...)
		default:
			r.logger.Info(finding.Message, logging.Args(attrs...)...)
		}
	}
}

// wait blocks until every fired hook has returned.
func (r *hookRunner) wait() {
	if r != nil {
		r.wg.Wait()
	}
}
