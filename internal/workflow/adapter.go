package workflow

import (
	"context"
	"time"
)

// StepCall is everything an adapter needs to execute one step. Inputs and
// Context are private copies taken when the layer started.
type StepCall struct {
	WorkflowID string
	Step       Step
	Inputs     map[string]any
	Context    map[string]any
	Layer      int
	Attempt    int
}

// Params resolves the step's input mapping. Each parameter takes the shared
// context value for its source key when present, otherwise the workflow input.
// Sources found in neither are omitted.
func (c StepCall) Params() map[string]any {
	params := make(map[string]any, len(c.Step.InputMapping))
	for param, source := range c.Step.InputMapping {
		if value, ok := c.Context[source]; ok {
			params[param] = value
			continue
		}
		if value, ok := c.Inputs[source]; ok {
			params[param] = value
		}
	}
	return params
}

// StepResult is the parsed outcome of a successful call.
type StepResult struct {
	Data       map[string]any
	StatusCode int
	Duration   time.Duration
}

// ServiceAdapter executes one step against its service. Implementations must
// be safe for concurrent use; the dispatcher applies the step timeout to ctx.
type ServiceAdapter interface {
	Execute(ctx context.Context, call StepCall) (StepResult, error)
}

// AdapterFunc adapts a function to ServiceAdapter.
type AdapterFunc func(ctx context.Context, call StepCall) (StepResult, error)

func (f AdapterFunc) Execute(ctx context.Context, call StepCall) (StepResult, error) {
	return f(ctx, call)
}
