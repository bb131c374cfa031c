package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

// Run is one persisted workflow outcome.
type Run struct {
	WorkflowID     string
	Type           string
	UserID         string
	Status         workflow.Status
	Progress       float64
	TotalSteps     int
	CompletedSteps int
	FailedSteps    []string
	RetryCount     int
	MaxRetries     int
	ErrorKind      string
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    time.Time
	RecordedAt     time.Time
}

// Duration returns the wall time between start and completion, or zero when
// either is unknown.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ListOptions filters List results.
type ListOptions struct {
	Limit  int
	Status workflow.Status
	Type   string
}

const defaultListLimit = 50

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `workflow_id, workflow_type, user_id, status, progress, total_steps,
	completed_steps, failed_steps_json, retry_count, max_retries, error_kind,
	error_message, started_at, completed_at, recorded_at`

// Record upserts the summary keyed by workflow id.
func (s *Store) Record(ctx context.Context, summary workflow.Summary) error {
	if strings.TrimSpace(summary.WorkflowID) == "" {
		return services.Wrap(services.ErrValidation, "history", "record", "workflow id is empty", nil)
	}
	failed := summary.FailedSteps
	if failed == nil {
		failed = []string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode failed steps: %w", err)
	}

	_, err = s.execWithRetry(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			workflow_type = excluded.workflow_type,
			user_id = excluded.user_id,
			status = excluded.status,
			progress = excluded.progress,
			total_steps = excluded.total_steps,
			completed_steps = excluded.completed_steps,
			failed_steps_json = excluded.failed_steps_json,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			recorded_at = excluded.recorded_at`,
		summary.WorkflowID,
		summary.Type,
		summary.UserID,
		string(summary.Status),
		summary.Progress,
		summary.TotalSteps,
		summary.StepCounts[workflow.StepCompleted],
		string(failedJSON),
		summary.RetryCount,
		summary.MaxRetries,
		summary.ErrorKind,
		summary.ErrorMessage,
		formatTime(summary.StartedAt),
		formatTime(summary.CompletedAt),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record workflow %s: %w", summary.WorkflowID, err)
	}
	return nil
}

// Get returns the run for id, or an error matching services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE workflow_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, services.Wrap(services.ErrNotFound, "history", "get", fmt.Sprintf("workflow %s not recorded", id), nil)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return run, nil
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		clauses []string
		args    []any
	)
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if t := strings.TrimSpace(opts.Type); t != "" {
		clauses = append(clauses, "workflow_type = ?")
		args = append(args, t)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at DESC, workflow_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM runs WHERE recorded_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                      Run
		status, failedJSON       string
		startedRaw, completedRaw sql.NullString
		recordedRaw              string
	)
	if err := row.Scan(
		&run.WorkflowID,
		&run.Type,
		&run.UserID,
		&status,
		&run.Progress,
		&run.TotalSteps,
		&run.CompletedSteps,
		&failedJSON,
		&run.RetryCount,
		&run.MaxRetries,
		&run.ErrorKind,
		&run.ErrorMessage,
		&startedRaw,
		&completedRaw,
		&recordedRaw,
	); err != nil {
		return Run{}, err
	}
	run.Status = workflow.Status(status)
	if failedJSON != "" {
		if err := json.Unmarshal([]byte(failedJSON), &run.FailedSteps); err != nil {
			return Run{}, fmt.Errorf("decode failed steps for %s: %w", run.WorkflowID, err)
		}
	}
	run.StartedAt = parseTime(startedRaw.String)
	run.CompletedAt = parseTime(completedRaw.String)
	run.RecordedAt = parseTime(recordedRaw)
	return run, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ workflow.Recorder = (*Store)(nil)
