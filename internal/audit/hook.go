package audit

import (
	"context"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/workflow"
)

// Hook applies a fixed set of lenses at every layer boundary.
type Hook struct {
	framework *Framework
	lenses    []Lens
	slowStep  time.Duration
}

// NewHook builds a hook from the [audit] configuration. Unknown lens names are rejected.
func NewHook(framework *Framework, cfg config.Audit) (*Hook, error) {
	if framework == nil {
		framework = NewFramework()
	}
	lenses := make([]Lens, 0, len(cfg.Lenses))
	for _, name := range cfg.Lenses {
		lens, err := framework.ParseLens(name)
		if err != nil {
			return nil, err
		}
		lenses = append(lenses, lens)
	}
	return &Hook{
		framework: framework,
		lenses:    lenses,
		slowStep:  time.Duration(cfg.SlowStepSeconds) * time.Second,
	}, nil
}

func (h *Hook) BeforeDispatch(_ context.Context, snap workflow.Snapshot) []workflow.Finding {
	return h.apply(snap, PointBefore)
}

func (h *Hook) AfterDispatch(_ context.Context, snap workflow.Snapshot) []workflow.Finding {
	return h.apply(snap, PointAfter)
}

func (h *Hook) apply(snap workflow.Snapshot, point Point) []workflow.Finding {
	lc := LensContext{Point: point, SlowStep: h.slowStep}
	var findings []workflow.Finding
	for _, lens := range h.lenses {
		out, err := h.framework.ApplyLens(lens, snap, lc)
		if err != nil {
			continue
		}
		findings = append(findings, out...)
	}
	return findings
}
