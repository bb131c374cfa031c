package workflow

import (
	"errors"
	"fmt"
	"log/slog"

	"mediaflow/internal/logging"
)

// RetryController applies bounded whole-workflow retry.
type RetryController struct {
	logger *slog.Logger
}

// NewRetryController constructs a controller that logs through logger.
func NewRetryController(logger *slog.Logger) RetryController {
	return RetryController{logger: logging.NewComponentLogger(logger, "retry")}
}

// CanRetry reports whether exec is failed or timed out with retry budget left.
func (RetryController) CanRetry(exec *Execution) bool {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return canRetryLocked(exec)
}

func canRetryLocked(exec *Execution) bool {
	switch exec.status {
	case StatusFailed, StatusTimeout:
		return exec.retryCount < exec.maxRetries
	default:
		return false
	}
}

// Retry resets failed steps to pending and moves exec to retrying so a
// dispatcher can re-enter it. Completed steps are kept. When the budget is
// spent the retry is rejected with *RetryExhaustedError, which is also
// recorded as the execution's failure message.
func (r RetryController) Retry(exec *Execution) error {
	exec.mu.Lock()
	status := exec.status
	if status != StatusFailed && status != StatusTimeout {
		exec.mu.Unlock()
		return fmt.Errorf("%w: retry requires failed or timeout, have %s", ErrIllegalTransition, status)
	}
	if !canRetryLocked(exec) {
		last := exec.lastErr
		var previous *RetryExhaustedError
		if errors.As(last, &previous) {
			last = previous.Last
		}
		err := &RetryExhaustedError{
			WorkflowID: exec.id,
			RetryCount: exec.retryCount,
			MaxRetries: exec.maxRetries,
			Last:       last,
		}
		exec.recordErrorLocked(err)
		exec.mu.Unlock()
		logging.WarnWithContext(r.logger, "retry rejected; budget exhausted", "retry_exhausted",
			logging.String(logging.FieldWorkflowID, exec.id),
			logging.Int("retry_count", err.RetryCount),
			logging.Int("max_retries", err.MaxRetries),
			logging.String(logging.FieldImpact, "workflow stays "+string(status)),
			logging.String(logging.FieldErrorHint, "submit a new workflow once the cause is fixed"),
		)
		return err
	}
	failed := sortedKeys(exec.failed)
	err := exec.resetForRetryLocked()
	retryCount := exec.retryCount
	exec.mu.Unlock()
	if err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Info("workflow retry scheduled",
			logging.String(logging.FieldWorkflowID, exec.id),
			logging.Int("retry_count", retryCount),
			logging.Int("max_retries", exec.maxRetries),
			logging.Any("reset_steps", failed),
			logging.String(logging.FieldEventType, "workflow_retry"),
		)
	}
	return nil
}
