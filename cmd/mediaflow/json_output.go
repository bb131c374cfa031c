package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/workflow"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type stepJSON struct {
	ID         string         `json:"id"`
	Service    string         `json:"service"`
	Status     string         `json:"status"`
	Required   bool           `json:"required"`
	Attempts   int            `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

type runJSON struct {
	WorkflowID  string         `json:"workflow_id"`
	Type        string         `json:"type"`
	UserID      string         `json:"user_id,omitempty"`
	Status      string         `json:"status"`
	Progress    float64        `json:"progress"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	FailedSteps []string       `json:"failed_steps,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Steps       []stepJSON     `json:"steps"`
}

func snapshotJSON(snap workflow.Snapshot) runJSON {
	out := runJSON{
		WorkflowID:  snap.WorkflowID,
		Type:        snap.Type,
		UserID:      snap.UserID,
		Status:      string(snap.Status),
		Progress:    snap.Progress,
		RetryCount:  snap.RetryCount,
		MaxRetries:  snap.MaxRetries,
		FailedSteps: snap.FailedSteps,
		Error:       snap.ErrorMessage,
		ErrorKind:   snap.ErrorKind,
		StartedAt:   timePtr(snap.StartedAt),
		CompletedAt: timePtr(snap.CompletedAt),
		Context:     snap.ContextData,
		Steps:       make([]stepJSON, 0, len(snap.Steps)),
	}
	for _, step := range snap.Steps {
		out.Steps = append(out.Steps, stepJSON{
			ID:         step.ID,
			Service:    step.Service,
			Status:     string(step.Status),
			Required:   step.Required,
			Attempts:   step.Attempts,
			DurationMS: step.Duration().Milliseconds(),
			Error:      step.ErrorMessage,
			Result:     step.Result,
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
