package audit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mediaflow/internal/audit"
	"mediaflow/internal/config"
	"mediaflow/internal/workflow"
)

func snapshot(steps ...workflow.StepSnapshot) workflow.Snapshot {
	return workflow.Snapshot{WorkflowID: "wf-audit", Status: workflow.StatusRunning, Steps: steps}
}

func TestReliabilityLensFlagsFailedAndBlockedSteps(t *testing.T) {
	fw := audit.NewFramework()
	snap := snapshot(
		workflow.StepSnapshot{Step: workflow.Step{ID: "grab", Service: "radarr", Required: true}, Status: workflow.StepFailed, ErrorMessage: "radarr returned http 500"},
		workflow.StepSnapshot{Step: workflow.Step{ID: "notify", Service: "jellyfin"}, Status: workflow.StepFailed},
		workflow.StepSnapshot{Step: workflow.Step{ID: "refresh", Service: "jellyfin"}, Status: workflow.StepBlocked},
	)
	findings, err := fw.ApplyLens(audit.LensReliability, snap, audit.LensContext{Point: audit.PointAfter})
	if err != nil {
		t.Fatalf("ApplyLens: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %+v", findings)
	}
	if findings[0].Severity != audit.SeverityCritical || findings[0].Lens != "reliability" {
		t.Fatalf("unexpected first finding: %+v", findings[0])
	}
	if !strings.Contains(findings[0].Message, "http 500") {
		t.Fatalf("expected error detail in message: %q", findings[0].Message)
	}
	if findings[1].Severity != audit.SeverityWarning {
		t.Fatalf("expected optional failure as warning: %+v", findings[1])
	}

	before, _ := fw.ApplyLens(audit.LensReliability, snap, audit.LensContext{Point: audit.PointBefore})
	if len(before) != 0 {
		t.Fatalf("expected reliability lens quiet before dispatch, got %+v", before)
	}
}

func TestPerformanceLensUsesSlowStepThreshold(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	snap := snapshot(
		workflow.StepSnapshot{Step: workflow.Step{ID: "slow"}, Status: workflow.StepCompleted, StartedAt: start, CompletedAt: start.Add(90 * time.Second)},
		workflow.StepSnapshot{Step: workflow.Step{ID: "fast"}, Status: workflow.StepCompleted, StartedAt: start, CompletedAt: start.Add(time.Second)},
	)
	findings, err := audit.NewFramework().ApplyLens(audit.LensPerformance, snap, audit.LensContext{Point: audit.PointAfter, SlowStep: time.Minute})
	if err != nil {
		t.Fatalf("ApplyLens: %v", err)
	}
	if len(findings) != 1 || !strings.Contains(findings[0].Message, "step slow took 1m30s") {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}

func TestRetryLensReportsSpentBudget(t *testing.T) {
	snap := snapshot(workflow.StepSnapshot{Step: workflow.Step{ID: "grab"}, Status: workflow.StepFailed, Attempts: 3})
	snap.RetryCount = 2
	snap.MaxRetries = 2
	snap.FailedSteps = []string{"grab"}
	findings, err := audit.NewFramework().ApplyLens(audit.LensRetry, snap, audit.LensContext{Point: audit.PointAfter})
	if err != nil {
		t.Fatalf("ApplyLens: %v", err)
	}
	if len(findings) != 2 || findings[1].Severity != audit.SeverityCritical {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}

func TestDependencyLensFlagsWaitsOnFailedSteps(t *testing.T) {
	snap := snapshot(
		workflow.StepSnapshot{Step: workflow.Step{ID: "a"}, Status: workflow.StepFailed},
		workflow.StepSnapshot{Step: workflow.Step{ID: "b", DependsOn: []string{"a", "ghost"}}, Status: workflow.StepPending},
	)
	findings, err := audit.NewFramework().ApplyLens(audit.LensDependency, snap, audit.LensContext{Point: audit.PointBefore})
	if err != nil {
		t.Fatalf("ApplyLens: %v", err)
	}
	if len(findings) != 2 || findings[0].Severity != audit.SeverityWarning || findings[1].Severity != audit.SeverityCritical {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}

func TestUnknownLensRejected(t *testing.T) {
	fw := audit.NewFramework()
	if _, err := fw.ApplyLens("security", workflow.Snapshot{}, audit.LensContext{}); !errors.Is(err, audit.ErrUnknownLens) {
		t.Fatalf("expected ErrUnknownLens, got %v", err)
	}
	if _, err := audit.NewHook(fw, config.Audit{Lenses: []string{"reliability", "security"}}); !errors.Is(err, audit.ErrUnknownLens) {
		t.Fatalf("expected hook construction to fail, got %v", err)
	}
	fw.Register("security", audit.EvaluatorFunc(func(workflow.Snapshot, audit.LensContext) []workflow.Finding {
		return []workflow.Finding{{Severity: audit.SeverityInfo, Message: "ok"}}
	}))
	if len(fw.Lenses()) != 5 {
		t.Fatalf("expected registered lens listed, got %v", fw.Lenses())
	}
}

func TestHookRunsInsideDispatcher(t *testing.T) {
	hook, err := audit.NewHook(nil, config.Audit{Lenses: []string{" Reliability ", "retry"}, SlowStepSeconds: 60})
	if err != nil {
		t.Fatalf("NewHook: %v", err)
	}
	exec, err := workflow.NewExecution(workflow.Definition{Steps: []workflow.Step{
		{ID: "search", Service: "prowlarr", Required: true},
	}})
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	adapter := workflow.AdapterFunc(func(context.Context, workflow.StepCall) (workflow.StepResult, error) {
		return workflow.StepResult{}, errors.New("indexer offline")
	})
	dispatcher := workflow.NewDispatcher(workflow.DispatcherConfig{Adapter: adapter, Hooks: []workflow.AuditHook{hook}})
	if err := dispatcher.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	dispatcher.WaitHooks()

	findings := hook.AfterDispatch(context.Background(), exec.Snapshot())
	if len(findings) != 1 || findings[0].Lens != "reliability" || !strings.Contains(findings[0].Message, "indexer offline") {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}
