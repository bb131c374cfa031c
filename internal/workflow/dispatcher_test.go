package workflow_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

func TestDispatcherRunsChainLayerByLayer(t *testing.T) {
	exec := newExecution(t, workflow.Definition{ID: "wf-chain", Type: "movie_acquisition", Steps: chainSteps()})
	adapter := newScriptedAdapter()
	adapter.on("A", func(context.Context, workflow.StepCall) (map[string]any, error) {
		return map[string]any{"guid": "abc123", "ignored": 1}, nil
	})
	var gotParams map[string]any
	adapter.on("B", func(_ context.Context, call workflow.StepCall) (map[string]any, error) {
		gotParams = call.Params()
		return map[string]any{"queued": true}, nil
	})

	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", exec.Status(), exec.ErrorMessage())
	}
	if exec.Progress() != 100 {
		t.Fatalf("expected progress 100, got %v", exec.Progress())
	}
	for i, id := range []string{"A", "B", "C"} {
		if layer := adapter.layerOf(id); layer != i+1 {
			t.Fatalf("expected %s in layer %d, got %d", id, i+1, layer)
		}
	}
	if gotParams["guid"] != "abc123" {
		t.Fatalf("expected mapped output to reach B, got %v", gotParams)
	}
	if !reflect.DeepEqual(exec.ContextData(), map[string]any{"release_guid": "abc123"}) {
		t.Fatalf("unexpected context data: %v", exec.ContextData())
	}
	snap := exec.Snapshot()
	if snap.Layers != 3 || snap.StartedAt.IsZero() || snap.CompletedAt.IsZero() {
		t.Fatalf("unexpected snapshot bookkeeping: layers=%d started=%v completed=%v", snap.Layers, snap.StartedAt, snap.CompletedAt)
	}
}

func TestDispatcherRunsIndependentStepsInOneLayer(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: diamondSteps()})
	adapter := newScriptedAdapter()
	if err := newDispatcher(adapter, func(cfg *workflow.DispatcherConfig) {
		cfg.LayerConcurrency = 1
		cfg.Calls = semaphore.NewWeighted(1)
	}).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status())
	}
	if adapter.layerOf("movie") != 2 || adapter.layerOf("series") != 2 || adapter.layerOf("refresh") != 3 {
		t.Fatalf("unexpected layers: movie=%d series=%d refresh=%d",
			adapter.layerOf("movie"), adapter.layerOf("series"), adapter.layerOf("refresh"))
	}
}

func TestSharedCallSemaphoreBoundsInFlightCalls(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: diamondSteps()})
	var inFlight, peak atomic.Int32
	track := func(context.Context, workflow.StepCall) (map[string]any, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}
	adapter := newScriptedAdapter()
	adapter.on("movie", track)
	adapter.on("series", track)

	if err := newDispatcher(adapter, func(cfg *workflow.DispatcherConfig) {
		cfg.Calls = semaphore.NewWeighted(1)
	}).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status())
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("expected at most one call in flight, saw %d", got)
	}
}

func TestProgressCountsCompletedRequiredSteps(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: []workflow.Step{
		{ID: "A", Service: "radarr", Required: true},
		{ID: "B", Service: "radarr", Required: true},
		{ID: "C", Service: "radarr", Required: true},
		{ID: "extra", Service: "radarr"},
		{ID: "D", Service: "jellyfin", Required: true, DependsOn: []string{"A", "B", "C"}},
	}})
	release := make(chan struct{})
	adapter := newScriptedAdapter()
	adapter.on("D", func(context.Context, workflow.StepCall) (map[string]any, error) {
		<-release
		return nil, nil
	})

	done := make(chan error, 1)
	go func() { done <- newDispatcher(adapter, nil).Run(context.Background(), exec) }()

	waitFor(t, "step D dispatch", func() bool { return adapter.callCount("D") == 1 })
	if got := exec.Progress(); got != 75 {
		t.Fatalf("expected progress 75 with 3 of 4 required steps done, got %v", got)
	}
	if exec.Status() != workflow.StatusRunning {
		t.Fatalf("expected running, got %s", exec.Status())
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Progress() != 100 || exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed at 100, got %s at %v", exec.Status(), exec.Progress())
	}
}

func TestFailFastStopsFurtherLayers(t *testing.T) {
	exec := newExecution(t, workflow.Definition{ID: "wf-fail", Steps: chainSteps()})
	adapter := newScriptedAdapter()
	adapter.on("B", func(context.Context, workflow.StepCall) (map[string]any, error) {
		return nil, badRequest("radarr")
	})

	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status())
	}
	if exec.ErrorKind() != workflow.KindStepExecution {
		t.Fatalf("expected step_execution kind, got %q", exec.ErrorKind())
	}
	if !reflect.DeepEqual(exec.FailedSteps(), []string{"B"}) {
		t.Fatalf("unexpected failed steps: %v", exec.FailedSteps())
	}
	if adapter.callCount("C") != 0 {
		t.Fatal("expected C never dispatched")
	}
	var stepErr *workflow.StepError
	if !errors.As(exec.Err(), &stepErr) || stepErr.StepID != "B" {
		t.Fatalf("expected StepError for B, got %v", exec.Err())
	}
	if !errors.Is(exec.Err(), services.ErrExternalService) {
		t.Fatalf("expected external service marker in chain, got %v", exec.Err())
	}
	if exec.Progress() >= 95 {
		t.Fatalf("expected partial progress, got %v", exec.Progress())
	}
}

func TestHealthGateBlocksDispatch(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	adapter := newScriptedAdapter()
	registry := staticRegistry{
		"prowlarr": workflow.HealthDegraded,
		"radarr":   workflow.HealthUnhealthy,
	}
	gate := workflow.NewHealthGate(registry, time.Second, nil)
	if err := newDispatcher(adapter, func(cfg *workflow.DispatcherConfig) { cfg.Gate = gate }).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusFailed || exec.ErrorKind() != workflow.KindDependencyUnhealthy {
		t.Fatalf("expected dependency failure, got %s %q", exec.Status(), exec.ErrorKind())
	}
	msg := exec.ErrorMessage()
	if !strings.Contains(msg, "unhealthy=[radarr]") || !strings.Contains(msg, "missing=[jellyfin]") {
		t.Fatalf("unexpected gate message %q", msg)
	}
	if adapter.callCount("A") != 0 {
		t.Fatal("expected no step dispatched")
	}
}

func TestStepRetryRecoversTransientFailure(t *testing.T) {
	steps := chainSteps()
	steps[1].MaxRetries = 2
	exec := newExecution(t, workflow.Definition{Steps: steps})
	adapter := newScriptedAdapter()
	attempts := 0
	adapter.on("B", func(_ context.Context, call workflow.StepCall) (map[string]any, error) {
		attempts++
		if call.Attempt == 1 {
			return nil, serverError("radarr")
		}
		return map[string]any{}, nil
	})

	if err := newDispatcher(adapter, func(cfg *workflow.DispatcherConfig) {
		cfg.StepRetryBackoff = time.Millisecond
	}).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", exec.Status(), exec.ErrorMessage())
	}
	if attempts != 2 {
		t.Fatalf("expected two attempts, got %d", attempts)
	}
	snap := exec.Snapshot()
	if snap.Steps[1].Attempts != 2 {
		t.Fatalf("expected attempts recorded on step, got %d", snap.Steps[1].Attempts)
	}
}

func TestStepRetrySkipsPermanentFailure(t *testing.T) {
	steps := chainSteps()
	steps[1].MaxRetries = 3
	exec := newExecution(t, workflow.Definition{Steps: steps})
	adapter := newScriptedAdapter()
	adapter.on("B", func(context.Context, workflow.StepCall) (map[string]any, error) {
		return nil, badRequest("radarr")
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if adapter.callCount("B") != 1 {
		t.Fatalf("expected a single attempt for a 400, got %d", adapter.callCount("B"))
	}
}

func TestWorkflowTimeoutExpiresRun(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps(), Timeout: 50 * time.Millisecond, MaxRetries: 1})
	adapter := newScriptedAdapter()
	adapter.on("B", func(ctx context.Context, _ workflow.StepCall) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusTimeout {
		t.Fatalf("expected timeout, got %s (%s)", exec.Status(), exec.ErrorMessage())
	}
	if exec.ErrorKind() != workflow.KindTimeout {
		t.Fatalf("unexpected kind %q", exec.ErrorKind())
	}
	if !strings.Contains(exec.ErrorMessage(), "[B, C]") {
		t.Fatalf("expected unfinished steps in message, got %q", exec.ErrorMessage())
	}
	if !workflow.NewRetryController(nil).CanRetry(exec) {
		t.Fatal("expected timed out workflow to be retryable")
	}
}

func TestCancelDiscardsInFlightLayer(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	release := make(chan struct{})
	adapter := newScriptedAdapter()
	adapter.on("B", func(context.Context, workflow.StepCall) (map[string]any, error) {
		<-release
		return map[string]any{"late": true}, nil
	})

	done := make(chan error, 1)
	go func() { done <- newDispatcher(adapter, nil).Run(context.Background(), exec) }()
	waitFor(t, "step B dispatch", func() bool { return adapter.callCount("B") == 1 })

	if err := exec.Cancel("user abort"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCancelled || exec.ErrorMessage() != "user abort" {
		t.Fatalf("expected cancelled with reason, got %s %q", exec.Status(), exec.ErrorMessage())
	}
	if status, _ := exec.StepStatus("B"); status != workflow.StepPending {
		t.Fatalf("expected discarded step back to pending, got %s", status)
	}
	if adapter.callCount("C") != 0 {
		t.Fatal("expected C never dispatched")
	}
}

func TestPauseHoldsNextLayerUntilResume(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	release := make(chan struct{})
	adapter := newScriptedAdapter()
	adapter.on("B", func(context.Context, workflow.StepCall) (map[string]any, error) {
		<-release
		return nil, nil
	})

	done := make(chan error, 1)
	go func() { done <- newDispatcher(adapter, nil).Run(context.Background(), exec) }()
	waitFor(t, "step B dispatch", func() bool { return adapter.callCount("B") == 1 })

	if err := exec.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(release)
	waitFor(t, "step B recorded", func() bool {
		status, _ := exec.StepStatus("B")
		return status == workflow.StepCompleted
	})
	time.Sleep(30 * time.Millisecond)
	if adapter.callCount("C") != 0 {
		t.Fatal("expected C held while paused")
	}
	if exec.Status() != workflow.StatusPaused {
		t.Fatalf("expected paused, got %s", exec.Status())
	}
	if err := exec.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", exec.Status())
	}
}

func TestContextCancellationCancelsWorkflow(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	ctx, cancel := context.WithCancel(context.Background())
	adapter := newScriptedAdapter()
	adapter.on("A", func(context.Context, workflow.StepCall) (map[string]any, error) {
		cancel()
		return nil, nil
	})
	if err := newDispatcher(adapter, nil).Run(ctx, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", exec.Status())
	}
	if adapter.callCount("B") != 0 {
		t.Fatal("expected B never dispatched")
	}
}

func TestContextCancelledMidStepCancelsWorkflow(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := newScriptedAdapter()
	adapter.on("A", func(stepCtx context.Context, _ workflow.StepCall) (map[string]any, error) {
		<-stepCtx.Done()
		return nil, stepCtx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- newDispatcher(adapter, nil).Run(ctx, exec) }()
	waitFor(t, "step A dispatch", func() bool { return adapter.callCount("A") == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if exec.Status() != workflow.StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s: %s)", exec.Status(), exec.ErrorKind(), exec.ErrorMessage())
	}
	if exec.ErrorKind() != workflow.KindCancelled {
		t.Fatalf("expected cancelled kind, got %q", exec.ErrorKind())
	}
	if failed := exec.FailedSteps(); len(failed) != 0 {
		t.Fatalf("expected no failed steps, got %v", failed)
	}
	if status, _ := exec.StepStatus("A"); status != workflow.StepPending {
		t.Fatalf("expected interrupted step back to pending, got %s", status)
	}
	if adapter.callCount("B") != 0 {
		t.Fatal("expected B never dispatched")
	}
}

func TestRunRejectsTerminalExecution(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	dispatcher := newDispatcher(newScriptedAdapter(), nil)
	if err := dispatcher.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	err := dispatcher.Run(context.Background(), exec)
	if !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for completed workflow, got %v", err)
	}
}

func TestAdapterPanicFailsStep(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	adapter := newScriptedAdapter()
	adapter.on("A", func(context.Context, workflow.StepCall) (map[string]any, error) {
		panic("adapter bug")
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusFailed || !strings.Contains(exec.ErrorMessage(), "adapter panic") {
		t.Fatalf("expected panic recorded as failure, got %s %q", exec.Status(), exec.ErrorMessage())
	}
}

func TestAuditHooksObserveLayersWithoutAffectingDispatch(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps()})
	panicky := &recordingHook{panics: true}
	quiet := &recordingHook{}
	dispatcher := newDispatcher(newScriptedAdapter(), func(cfg *workflow.DispatcherConfig) {
		cfg.Hooks = []workflow.AuditHook{panicky, quiet}
	})
	if err := dispatcher.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	dispatcher.WaitHooks()
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed despite panicking hook, got %s", exec.Status())
	}
	before, after := quiet.counts()
	if before != 3 || after != 4 {
		t.Fatalf("expected 3 before and 4 after observations, got %d and %d", before, after)
	}
	quiet.mu.Lock()
	last := quiet.after[len(quiet.after)-1]
	quiet.mu.Unlock()
	if last.Status != workflow.StatusCompleted {
		t.Fatalf("expected final snapshot completed, got %s", last.Status)
	}
}
