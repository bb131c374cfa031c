package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mediaflow/internal/workflow"
)

// Lens names one audit perspective.
type Lens string

const (
	LensReliability Lens = "reliability"
	LensPerformance Lens = "performance"
	LensRetry       Lens = "retry"
	LensDependency  Lens = "dependency"
)

// Finding severities, ordered from most to least severe.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// ErrUnknownLens is returned for lenses absent from the table.
var ErrUnknownLens = errors.New("unknown audit lens")

// Point identifies the layer boundary a snapshot was taken at.
type Point string

const (
	PointBefore Point = "before_dispatch"
	PointAfter  Point = "after_dispatch"
)

// LensContext carries evaluation settings alongside the snapshot.
type LensContext struct {
	Point    Point
	SlowStep time.Duration
}

// Evaluator inspects a snapshot from one perspective.
type Evaluator interface {
	Evaluate(target workflow.Snapshot, lc LensContext) []workflow.Finding
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(target workflow.Snapshot, lc LensContext) []workflow.Finding

func (f EvaluatorFunc) Evaluate(target workflow.Snapshot, lc LensContext) []workflow.Finding {
	return f(target, lc)
}

// Framework dispatches lens evaluations through a lookup table.
type Framework struct {
	mu     sync.RWMutex
	lenses map[Lens]Evaluator
}

// NewFramework returns a framework with the built-in lenses registered.
func NewFramework() *Framework {
	return &Framework{lenses: map[Lens]Evaluator{
		LensReliability: EvaluatorFunc(evaluateReliability),
		LensPerformance: EvaluatorFunc(evaluatePerformance),
		LensRetry:       EvaluatorFunc(evaluateRetry),
		LensDependency:  EvaluatorFunc(evaluateDependency),
	}}
}

// Register adds or replaces the evaluator for lens.
func (f *Framework) Register(lens Lens, evaluator Evaluator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lenses[lens] = evaluator
}

// Lenses lists the registered lens names alphabetically.
func (f *Framework) Lenses() []Lens {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Lens, 0, len(f.lenses))
	for lens := range f.lenses {
		out = append(out, lens)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseLens normalizes a configured lens name and checks that it is registered.
func (f *Framework) ParseLens(name string) (Lens, error) {
	lens := Lens(strings.ToLower(strings.TrimSpace(name)))
	f.mu.RLock()
	_, ok := f.lenses[lens]
	f.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownLens, name)
	}
	return lens, nil
}

// ApplyLens evaluates target through lens. Every finding is stamped with the lens name.
func (f *Framework) ApplyLens(lens Lens, target workflow.Snapshot, lc LensContext) ([]workflow.Finding, error) {
	f.mu.RLock()
	evaluator, ok := f.lenses[lens]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLens, lens)
	}
	findings := evaluator.Evaluate(target, lc)
	for i := range findings {
		findings[i].Lens = string(lens)
	}
	return findings, nil
}

func evaluateReliability(target workflow.Snapshot, lc LensContext) []workflow.Finding {
	if lc.Point != PointAfter {
		return nil
	}
	var findings []workflow.Finding
	for _, step := range target.Steps {
		switch step.Status {
		case workflow.StepFailed:
			severity := SeverityWarning
			if step.Required {
				severity = SeverityCritical
			}
			findings = append(findings, workflow.Finding{
				Severity: severity,
				Message:  fmt.Sprintf("step %s failed against %s: %s", step.ID, step.Service, step.ErrorMessage),
			})
		case workflow.StepBlocked:
			findings = append(findings, workflow.Finding{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("step %s is blocked by unresolved dependencies", step.ID),
			})
		}
	}
	return findings
}

func evaluatePerformance(target workflow.Snapshot, lc LensContext) []workflow.Finding {
	if lc.Point != PointAfter || lc.SlowStep <= 0 {
		return nil
	}
	var findings []workflow.Finding
	for _, step := range target.Steps {
		if step.Status != workflow.StepCompleted {
			continue
		}
		if elapsed := step.Duration(); elapsed > lc.SlowStep {
			findings = append(findings, workflow.Finding{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("step %s took %s (threshold %s)", step.ID, elapsed.Round(time.Millisecond), lc.SlowStep),
			})
		}
	}
	return findings
}

func evaluateRetry(target workflow.Snapshot, lc LensContext) []workflow.Finding {
	if lc.Point != PointAfter {
		return nil
	}
	var findings []workflow.Finding
	for _, step := range target.Steps {
		if step.Attempts > 1 {
			findings = append(findings, workflow.Finding{
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("step %s needed %d attempts", step.ID, step.Attempts),
			})
		}
	}
	if target.RetryCount > 0 && target.RetryCount >= target.MaxRetries && len(target.FailedSteps) > 0 {
		findings = append(findings, workflow.Finding{
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("retry budget spent (%d of %d) with failed steps [%s]", target.RetryCount, target.MaxRetries, strings.Join(target.FailedSteps, ", ")),
		})
	}
	return findings
}

func evaluateDependency(target workflow.Snapshot, lc LensContext) []workflow.Finding {
	if lc.Point != PointBefore {
		return nil
	}
	statuses := make(map[string]workflow.StepStatus, len(target.Steps))
	for _, step := range target.Steps {
		statuses[step.ID] = step.Status
	}
	var findings []workflow.Finding
	for _, step := range target.Steps {
		if step.Status != workflow.StepPending {
			continue
		}
		for _, dep := range step.DependsOn {
			status, ok := statuses[dep]
			switch {
			case !ok:
				findings = append(findings, workflow.Finding{
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep),
				})
			case status == workflow.StepFailed || status == workflow.StepBlocked:
				findings = append(findings, workflow.Finding{
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("step %s waits on %s step %s", step.ID, status, dep),
				})
			}
		}
	}
	return findings
}
