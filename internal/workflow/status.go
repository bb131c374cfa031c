package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status represents the lifecycle of a workflow execution.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusTimeout      Status = "timeout"
	StatusRetrying     Status = "retrying"
)

// StepStatus represents the lifecycle of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepBlocked   StepStatus = "blocked"
)

// ErrIllegalTransition is returned when a status change is not allowed by the state machine.
var ErrIllegalTransition = errors.New("illegal status transition")

var allStatuses = []Status{
	StatusPending,
	StatusInitializing,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusTimeout,
	StatusRetrying,
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimeout:   {},
}

// allowedTransitions is the complete state machine; anything absent is rejected.
var allowedTransitions = map[Status][]Status{
	StatusPending:      {StatusInitializing, StatusCancelled},
	StatusInitializing: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:      {StatusCompleted, StatusFailed, StatusTimeout, StatusPaused, StatusCancelled},
	StatusPaused:       {StatusRunning, StatusFailed, StatusTimeout, StatusCancelled},
	StatusFailed:       {StatusRetrying, StatusCancelled},
	StatusTimeout:      {StatusRetrying, StatusCancelled},
	StatusRetrying:     {StatusRunning, StatusFailed, StatusCancelled},
}

// AllStatuses returns every workflow status in lifecycle order.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// IsTerminal reports whether the status ends a dispatch run.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(allowedTransitions[s], next)
}

// ParseStatus converts a string into a Status, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allStatuses, normalized) {
		return normalized, true
	}
	return "", false
}

func checkTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
