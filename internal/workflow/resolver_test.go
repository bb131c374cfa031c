package workflow_test

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"mediaflow/internal/workflow"
)

func diamondSteps() []workflow.Step {
	return []workflow.Step{
		{ID: "search", Service: "prowlarr", Required: true},
		{ID: "movie", Service: "radarr", Required: true, DependsOn: []string{"search"}},
		{ID: "series", Service: "sonarr", Required: true, DependsOn: []string{"search"}},
		{ID: "refresh", Service: "jellyfin", Required: true, DependsOn: []string{"movie", "series"}},
	}
}

func TestReadyReturnsPendingStepsWithCompletedDependencies(t *testing.T) {
	exec := newExecution(t, workflow.Definition{Steps: diamondSteps()})
	var resolver workflow.Resolver

	ready := resolver.Ready(exec)
	if len(ready) != 1 || ready[0].ID != "search" {
		t.Fatalf("expected only root step ready, got %+v", ready)
	}

	var (
		mu       sync.Mutex
		observed = map[string][]string{}
	)
	adapter := newScriptedAdapter()
	adapter.on("movie", func(context.Context, workflow.StepCall) (map[string]any, error) {
		var ids []string
		for _, step := range resolver.Ready(exec) {
			ids = append(ids, step.ID)
		}
		mu.Lock()
		observed["movie"] = ids
		mu.Unlock()
		return nil, nil
	})
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", exec.Status(), exec.ErrorMessage())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed["movie"]) != 0 {
		t.Fatalf("expected nothing ready while layer two is in flight, got %v", observed["movie"])
	}
	if len(resolver.Ready(exec)) != 0 {
		t.Fatal("expected no ready steps after completion")
	}
}

func TestDetectStuckReportsUnresolvedDependencies(t *testing.T) {
	exec := newExecution(t, workflow.Definition{
		ID: "wf-stuck",
		Steps: []workflow.Step{
			{ID: "A", Service: "prowlarr", Required: true},
			{ID: "B", Service: "radarr", Required: true, DependsOn: []string{"A", "missing"}},
			{ID: "C", Service: "jellyfin", Required: true, DependsOn: []string{"B"}},
		},
	}, workflow.WithoutGraphValidation())

	var resolver workflow.Resolver
	if unresolved, blocked := resolver.DetectStuck(exec); unresolved != nil || blocked != nil {
		t.Fatalf("expected no stuck report while A is ready, got %v %v", unresolved, blocked)
	}

	adapter := newScriptedAdapter()
	if err := newDispatcher(adapter, nil).Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status() != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status())
	}
	if exec.ErrorKind() != workflow.KindStuck {
		t.Fatalf("expected stuck kind, got %q", exec.ErrorKind())
	}
	if !strings.Contains(exec.ErrorMessage(), "missing") {
		t.Fatalf("expected unresolved id in message, got %q", exec.ErrorMessage())
	}
	for _, id := range []string{"B", "C"} {
		if status, _ := exec.StepStatus(id); status != workflow.StepBlocked {
			t.Fatalf("expected %s blocked, got %s", id, status)
		}
	}
	if adapter.callCount("B") != 0 {
		t.Fatal("expected B never dispatched")
	}
	unresolved, blocked := resolver.DetectStuck(exec)
	if !reflect.DeepEqual(unresolved, []string{"B", "missing"}) {
		t.Fatalf("unexpected unresolved ids: %v", unresolved)
	}
	if !reflect.DeepEqual(blocked, []string{"B", "C"}) {
		t.Fatalf("unexpected blocked ids: %v", blocked)
	}
}

func TestValidateGraphAcceptsDiamond(t *testing.T) {
	if err := workflow.ValidateGraph(diamondSteps()); err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	steps := diamondSteps()
	steps[0].DependsOn = []string{"refresh"}
	err := workflow.ValidateGraph(steps)
	if err == nil || !strings.Contains(err.Error(), "dependency cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}
