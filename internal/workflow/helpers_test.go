package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

type stepHandler func(ctx context.Context, call workflow.StepCall) (map[string]any, error)

// scriptedAdapter answers calls from per-step handlers and records call order.
type scriptedAdapter struct {
	mu       sync.Mutex
	handlers map[string]stepHandler
	calls    []workflow.StepCall
	attempts map[string]int
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		handlers: make(map[string]stepHandler),
		attempts: make(map[string]int),
	}
}

func (a *scriptedAdapter) on(stepID string, fn stepHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[stepID] = fn
}

func (a *scriptedAdapter) Execute(ctx context.Context, call workflow.StepCall) (workflow.StepResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.attempts[call.Step.ID]++
	fn := a.handlers[call.Step.ID]
	a.mu.Unlock()
	if fn == nil {
		return workflow.StepResult{Data: map[string]any{"ok": true}, StatusCode: 200}, nil
	}
	data, err := fn(ctx, call)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{Data: data, StatusCode: 200}, nil
}

func (a *scriptedAdapter) callCount(stepID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[stepID]
}

func (a *scriptedAdapter) layerOf(stepID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	layer := 0
	for _, call := range a.calls {
		if call.Step.ID == stepID {
			layer = call.Layer
		}
	}
	return layer
}

// staticRegistry reports fixed statuses; services absent from the map are unregistered.
type staticRegistry map[string]workflow.HealthStatus

func (r staticRegistry) Health(_ context.Context, service string) (workflow.HealthReport, bool) {
	status, ok := r[service]
	if !ok {
		return workflow.HealthReport{}, false
	}
	return workflow.HealthReport{Service: service, Status: status, CheckedAt: time.Now()}, true
}

type recordingHook struct {
	mu     sync.Mutex
	before []workflow.Snapshot
	after  []workflow.Snapshot
	panics bool
}

func (h *recordingHook) BeforeDispatch(_ context.Context, snap workflow.Snapshot) []workflow.Finding {
	h.mu.Lock()
	h.before = append(h.before, snap)
	h.mu.Unlock()
	if h.panics {
		panic("hook exploded")
	}
	return nil
}

func (h *recordingHook) AfterDispatch(_ context.Context, snap workflow.Snapshot) []workflow.Finding {
	h.mu.Lock()
	h.after = append(h.after, snap)
	h.mu.Unlock()
	return []workflow.Finding{{Lens: "test", Severity: "info", Message: "layer observed"}}
}

func (h *recordingHook) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.before), len(h.after)
}

type memoryRecorder struct {
	mu        sync.Mutex
	summaries []workflow.Summary
}

func (r *memoryRecorder) Record(_ context.Context, summary workflow.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *memoryRecorder) all() []workflow.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Summary(nil), r.summaries...)
}

func chainSteps() []workflow.Step {
	return []workflow.Step{
		{ID: "A", Service: "prowlarr", Endpoint: "/api/v1/search", Required: true, OutputMapping: map[string]string{"guid": "release_guid"}},
		{ID: "B", Service: "radarr", Endpoint: "/api/v3/release", Required: true, DependsOn: []string{"A"}, InputMapping: map[string]string{"guid": "release_guid"}},
		{ID: "C", Service: "jellyfin", Endpoint: "/Library/Refresh", Method: "post", Required: true, DependsOn: []string{"B"}},
	}
}

func newExecution(t *testing.T, def workflow.Definition, opts ...workflow.ExecutionOption) *workflow.Execution {
	t.Helper()
	exec, err := workflow.NewExecution(def, opts...)
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	return exec
}

func newDispatcher(adapter workflow.ServiceAdapter, mutate func(*workflow.DispatcherConfig)) *workflow.Dispatcher {
	cfg := workflow.DispatcherConfig{Adapter: adapter, StepTimeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	return workflow.NewDispatcher(cfg)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workflow.StepRetryBackoffMillis = 1
	cfg.Workflow.DefaultStepTimeout = 2
	return &cfg
}

func serverError(service string) error {
	return &services.ExecutionError{Service: service, StatusCode: 503, BodySnippet: "unavailable"}
}

func badRequest(service string) error {
	return &services.ExecutionError{Service: service, StatusCode: 400, BodySnippet: "bad request"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
