package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds recorded on failed executions and returned by ErrorKind.
const (
	KindConfiguration       = "configuration"
	KindDependencyUnhealthy = "dependency_unhealthy"
	KindStuck               = "stuck"
	KindStepExecution       = "step_execution"
	KindRetryExhausted      = "retry_exhausted"
	KindTimeout             = "timeout"
	KindCancelled           = "cancelled"
)

// ErrorClassifier lets errors declare the kind recorded on the execution.
type ErrorClassifier interface {
	ErrorKind() string
}

// KindOf returns the declared kind of err, or "" when err does not classify itself.
func KindOf(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return ""
}

// ConfigurationError rejects an invalid step graph at construction time.
type ConfigurationError struct {
	WorkflowID string
	Problems   []string
}

func (e *ConfigurationError) Error() string {
	subject := "workflow"
	if e.WorkflowID != "" {
		subject = "workflow " + e.WorkflowID
	}
	return fmt.Sprintf("invalid workflow: %s: %s", subject, strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) ErrorKind() string { return KindConfiguration }

// UnhealthyError reports the services that failed the pre-flight health gate.
type UnhealthyError struct {
	Unhealthy []string
	Missing   []string
}

func (e *UnhealthyError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Unhealthy) > 0 {
		parts = append(parts, "unhealthy=["+strings.Join(e.Unhealthy, ", ")+"]")
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing=["+strings.Join(e.Missing, ", ")+"]")
	}
	return "dependency unhealthy: " + strings.Join(parts, " ")
}

func (e *UnhealthyError) ErrorKind() string { return KindDependencyUnhealthy }

// StuckError lists dependency ids that can never be satisfied.
type StuckError struct {
	Unresolved []string
	Blocked    []string
}

func (e *StuckError) Error() string {
	msg := "stuck workflow: unresolved dependencies [" + strings.Join(e.Unresolved, ", ") + "]"
	if len(e.Blocked) > 0 {
		msg += " blocking [" + strings.Join(e.Blocked, ", ") + "]"
	}
	return msg
}

func (e *StuckError) ErrorKind() string { return KindStuck }

// StepError wraps the failure of a single step.
type StepError struct {
	StepID  string
	Service string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step execution failed: step %s (%s): %v", e.StepID, e.Service, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) ErrorKind() string { return KindStepExecution }

// RetryExhaustedError rejects a retry once the retry budget is spent.
type RetryExhaustedError struct {
	WorkflowID string
	RetryCount int
	MaxRetries int
	Last       error
}

func (e *RetryExhaustedError) Error() string {
	msg := fmt.Sprintf("retry exhausted: workflow %s used %d of %d retries", e.WorkflowID, e.RetryCount, e.MaxRetries)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func (e *RetryExhaustedError) ErrorKind() string { return KindRetryExhausted }

// TimeoutError reports that the workflow deadline passed before completion.
type TimeoutError struct {
	Timeout string
	Pending []string
}

func (e *TimeoutError) Error() string {
	msg := "workflow timed out: deadline " + e.Timeout + " exceeded"
	if len(e.Pending) > 0 {
		msg += " with unfinished steps [" + strings.Join(e.Pending, ", ") + "]"
	}
	return msg
}

func (e *TimeoutError) ErrorKind() string { return KindTimeout }
