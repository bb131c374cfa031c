package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// ErrorKind is the coarse classification attached to structured log lines.
type ErrorKind string

const (
	KindExternalService ErrorKind = "external_service"
	KindValidation      ErrorKind = "validation"
	KindConfiguration   ErrorKind = "configuration"
	KindNotFound        ErrorKind = "not_found"
	KindTimeout         ErrorKind = "timeout"
	KindTransient       ErrorKind = "transient"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExecutionError reports a non-2xx response from a wrapped service.
type ExecutionError struct {
	Service     string
	StatusCode  int
	BodySnippet string
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	snippet := strings.TrimSpace(e.BodySnippet)
	if snippet == "" {
		return fmt.Sprintf("%s returned http %d", e.serviceLabel(), e.StatusCode)
	}
	return fmt.Sprintf("%s returned http %d: %s", e.serviceLabel(), e.StatusCode, snippet)
}

func (e *ExecutionError) serviceLabel() string {
	if name := strings.TrimSpace(e.Service); name != "" {
		return name
	}
	return "service"
}

// Is lets errors.Is match ExecutionError against the external service marker.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExternalService
}

// Transient reports whether the status code suggests the call may succeed later.
func (e *ExecutionError) Transient() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Truncate shortens a response body for inclusion in an error message.
func Truncate(body string, limit int) string {
	body = strings.TrimSpace(body)
	if limit <= 0 || len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}

// ErrorDetails is the structured view of an error used for log attributes.
type ErrorDetails struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

// Details classifies err against the sentinel markers.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Message: err.Error(), Kind: classify(err), Cause: errors.Unwrap(err)}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		details.StatusCode = execErr.StatusCode
	}
	return details
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	default:
		return KindTransient
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
