package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mediaflow/internal/workflow"
)

func TestRetryResetsOnlyFailedSteps(t *testing.T) {
	exec := newExecution(t, workflow.Definition{ID: "wf-retry", Steps: chainSteps(), MaxRetries: 1})
	adapter := newScriptedAdapter()
	failB := true
	adapter.on("B", func(context.Context, workflow.StepCall) (map[string]any, error) {
		if failB {
			return nil, serverError("radarr")
		}
		return nil, nil
	})
	dispatcher := newDispatcher(adapter, nil)
	if err := dispatcher.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status())
	}
	failedProgress := exec.Progress()

	controller := workflow.NewRetryController(nil)
	if !controller.CanRetry(exec) {
		t.Fatal("expected retry budget available")
	}
	if err := controller.Retry(exec); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if exec.Status() != workflow.StatusRetrying || exec.RetryCount() != 1 {
		t.Fatalf("unexpected state after retry: %s count=%d", exec.Status(), exec.RetryCount())
	}
	if status, _ := exec.StepStatus("A"); status != workflow.StepCompleted {
		t.Fatalf("expected completed step kept, got %s", status)
	}
	if status, _ := exec.StepStatus("B"); status != workflow.StepPending {
		t.Fatalf("expected failed step reset to pending, got %s", status)
	}
	if len(exec.FailedSteps()) != 0 {
		t.Fatalf("expected failed set cleared, got %v", exec.FailedSteps())
	}
	if exec.Progress() != 0 {
		t.Fatalf("expected progress reset for retry, got %v (was %v)", exec.Progress(), failedProgress)
	}

	failB = false
	if err := dispatcher.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run after retry: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s (%s)", exec.Status(), exec.ErrorMessage())
	}
	if adapter.callCount("A") != 1 || adapter.callCount("B") != 2 {
		t.Fatalf("unexpected call counts: A=%d B=%d", adapter.callCount("A"), adapter.callCount("B"))
	}
	if exec.ErrorMessage() != "" || exec.ErrorKind() != "" {
		t.Fatalf("expected error cleared on completion, got %q %q", exec.ErrorMessage(), exec.ErrorKind())
	}
}

func TestRetryRejectedWhenBudgetExhausted(t *testing.T) {
	exec := newExecution(t, workflow.Definition{ID: "wf-spent", Steps: chainSteps(), MaxRetries: 0})
	adapter := newScriptedAdapter()
	adapter.on("A", func(context.Context, workflow.StepCall) (map[string]any, error) {
		return nil, badRequest("prowlarr")
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	err := workflow.NewRetryController(nil).Retry(exec)
	var exhausted *workflow.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.RetryCount != 0 || exhausted.MaxRetries != 0 {
		t.Fatalf("unexpected budget in error: %+v", exhausted)
	}
	if exec.Status() != workflow.StatusFailed {
		t.Fatalf("expected workflow to stay failed, got %s", exec.Status())
	}
	if exec.ErrorKind() != workflow.KindRetryExhausted {
		t.Fatalf("expected retry_exhausted kind, got %q", exec.ErrorKind())
	}
	var stepErr *workflow.StepError
	if !errors.As(exec.Err(), &stepErr) {
		t.Fatalf("expected original failure preserved in chain, got %v", exec.Err())
	}
}

func TestRepeatedExhaustedRetryKeepsOneCause(t *testing.T) {
	exec := newExecution(t, workflow.Definition{ID: "wf-again", Steps: chainSteps()})
	adapter := newScriptedAdapter()
	adapter.on("A", func(context.Context, workflow.StepCall) (map[string]any, error) {
		return nil, errBoom
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	controller := workflow.NewRetryController(nil)
	for i := 0; i < 3; i++ {
		if err := controller.Retry(exec); err == nil {
			t.Fatalf("attempt %d: expected retry to be rejected", i+1)
		}
	}
	msg := exec.ErrorMessage()
	if got := strings.Count(msg, "retry exhausted:"); got != 1 {
		t.Fatalf("expected one retry exhausted prefix, got %d in %q", got, msg)
	}
	var exhausted *workflow.RetryExhaustedError
	if !errors.As(exec.Err(), &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", exec.Err())
	}
	var stepErr *workflow.StepError
	if !errors.As(exhausted.Last, &stepErr) || stepErr.StepID != "A" {
		t.Fatalf("expected step failure as the cause, got %v", exhausted.Last)
	}
}

func TestRetryRequiresFailedOrTimeout(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: chainSteps(), MaxRetries: 3})
	controller := workflow.NewRetryController(nil)
	if controller.CanRetry(exec) {
		t.Fatal("expected pending workflow not retryable")
	}
	if err := controller.Retry(exec); !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if exec.RetryCount() != 0 {
		t.Fatalf("expected retry count untouched, got %d", exec.RetryCount())
	}
}
