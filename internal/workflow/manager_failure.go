package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

const recordTimeout = 5 * time.Second

// recordOutcome logs the terminal state of exec and hands its summary to the recorder.
func (m *Manager) recordOutcome(exec *Execution) {
	summary := exec.Summary()
	logger := m.logger.With(
		logging.String(logging.FieldWorkflowID, summary.WorkflowID),
		logging.String(logging.FieldWorkflowType, summary.Type),
	)

	switch summary.Status {
	case StatusCompleted:
		logger.Info("workflow finished",
			logging.String(logging.FieldStatus, string(summary.Status)),
			logging.Int("steps", summary.TotalSteps),
			logging.Int("retry_count", summary.RetryCount),
			logging.Duration("duration", summary.Duration()),
			logging.String(logging.FieldEventType, "workflow_finished"),
		)
	case StatusFailed, StatusTimeout:
		m.logFailure(logger, exec, summary)
	case StatusCancelled:
		logger.Info("workflow finished",
			logging.String(logging.FieldStatus, string(summary.Status)),
			logging.String("reason", summary.ErrorMessage),
			logging.String(logging.FieldEventType, "workflow_finished"),
		)
	default:
		return
	}

	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, summary); err != nil {
		logging.WarnWithContext(logger, "failed to record workflow history", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run is missing from history"),
			logging.String(logging.FieldErrorHint, "check history.path permissions and disk space"),
		)
	}
}

func (m *Manager) logFailure(logger *slog.Logger, exec *Execution, summary Summary) {
	err := exec.Err()
	message := classifyFailure(summary, err)
	attrs := []logging.Attr{
		logging.String(logging.FieldStatus, string(summary.Status)),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorKind, summary.ErrorKind),
		logging.Any("failed_steps", summary.FailedSteps),
		logging.Int("retry_count", summary.RetryCount),
		logging.Int("max_retries", summary.MaxRetries),
		logging.Alert("workflow_failure"),
		logging.String(logging.FieldErrorHint, failureHint(summary.ErrorKind)),
		logging.String(logging.FieldEventType, "workflow_failure"),
	}
	if err != nil {
		details := services.Details(err)
		if details.StatusCode != 0 {
			attrs = append(attrs, logging.Int("status_code", details.StatusCode))
		}
		attrs = append(attrs, logging.Error(err))
	}
	logger.Error("workflow failed", logging.Args(attrs...)...)
}

func classifyFailure(summary Summary, err error) string {
	message := strings.TrimSpace(summary.ErrorMessage)
	if message == "" && err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = "workflow " + string(summary.Status) + " without error detail"
	}
	return message
}

func failureHint(kind string) string {
	switch kind {
	case KindDependencyUnhealthy:
		return "start the unhealthy services and submit the workflow again"
	case KindStuck:
		return "fix depends_on references in the workflow catalog"
	case KindStepExecution:
		return "inspect the failing service, then run mediaflow retry"
	case KindTimeout:
		return "raise timeout_seconds for the workflow or retry it"
	case KindRetryExhausted:
		return "retry budget is spent; submit a new workflow once the cause is fixed"
	default:
		return "check logs for details"
	}
}
