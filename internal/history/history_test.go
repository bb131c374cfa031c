package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mediaflow/internal/history"
	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "history.db")
	store, err := history.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summary(id string, status workflow.Status) workflow.Summary {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return workflow.Summary{
		WorkflowID:  id,
		Type:        "movie_acquisition",
		UserID:      "alice",
		Status:      status,
		Progress:    100,
		TotalSteps:  4,
		StepCounts:  map[workflow.StepStatus]int{workflow.StepCompleted: 4},
		MaxRetries:  2,
		StartedAt:   started,
		CompletedAt: started.Add(90 * time.Second),
	}
}

func TestRecordAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, summary("wf-1", workflow.StatusCompleted)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	run, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != workflow.StatusCompleted || run.CompletedSteps != 4 || run.TotalSteps != 4 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Duration() != 90*time.Second {
		t.Fatalf("unexpected duration %v", run.Duration())
	}
	if run.RecordedAt.IsZero() {
		t.Fatal("expected recorded_at to be set")
	}
	if len(run.FailedSteps) != 0 {
		t.Fatalf("expected no failed steps, got %v", run.FailedSteps)
	}
}

func TestRecordUpsertsByWorkflowID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	failed := summary("wf-2", workflow.StatusFailed)
	failed.FailedSteps = []string{"add", "search"}
	failed.ErrorKind = "external"
	failed.ErrorMessage = "radarr returned 503"
	failed.StepCounts = map[workflow.StepStatus]int{workflow.StepCompleted: 1, workflow.StepFailed: 2}
	if err := store.Record(ctx, failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	failed.RetryCount = 2
	if err := store.Record(ctx, failed); err != nil {
		t.Fatalf("Record retry: %v", err)
	}

	runs, err := store.List(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(runs))
	}
	run := runs[0]
	if run.RetryCount != 2 || run.ErrorKind != "external" {
		t.Fatalf("unexpected run after upsert: %+v", run)
	}
	if len(run.FailedSteps) != 2 || run.FailedSteps[0] != "add" || run.FailedSteps[1] != "search" {
		t.Fatalf("unexpected failed steps %v", run.FailedSteps)
	}
}

func TestListFilters(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, s := range []workflow.Summary{
		summary("a", workflow.StatusCompleted),
		summary("b", workflow.StatusFailed),
		summary("c", workflow.StatusCompleted),
	} {
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record %s: %v", s.WorkflowID, err)
		}
	}
	series := summary("d", workflow.StatusCompleted)
	series.Type = "series_acquisition"
	if err := store.Record(ctx, series); err != nil {
		t.Fatalf("Record d: %v", err)
	}

	completed, err := store.List(ctx, history.ListOptions{Status: workflow.StatusCompleted})
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	if len(completed) != 3 {
		t.Fatalf("expected 3 completed runs, got %d", len(completed))
	}

	movies, err := store.List(ctx, history.ListOptions{Status: workflow.StatusCompleted, Type: "movie_acquisition"})
	if err != nil {
		t.Fatalf("List movies: %v", err)
	}
	if len(movies) != 2 {
		t.Fatalf("expected 2 completed movie runs, got %d", len(movies))
	}

	limited, err := store.List(ctx, history.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordRejectsEmptyID(t *testing.T) {
	store := openStore(t)
	err := store.Record(context.Background(), workflow.Summary{Status: workflow.StatusCompleted})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPruneRemovesOldRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Record(ctx, summary("old", workflow.StatusCompleted)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	removed, err := store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned row, got %d", removed)
	}
	runs, err := store.List(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty history, got %d", len(runs))
	}
}

func TestReopenKeepsMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	first, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.Record(ctx, summary("keep", workflow.StatusCompleted)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()
	if _, err := second.Get(ctx, "keep"); err != nil {
		t.Fatalf("expected row to survive reopen: %v", err)
	}
}
