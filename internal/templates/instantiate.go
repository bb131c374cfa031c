package templates

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/config"
	"mediaflow/internal/workflow"
)

// ErrUnknownType is returned for workflow types missing from the catalog.
var ErrUnknownType = errors.New("unknown workflow type")

// ErrMissingInput is returned when a required input parameter is absent.
var ErrMissingInput = errors.New("missing required input")

// Request asks for one workflow run.
type Request struct {
	Type   string
	UserID string
	Inputs map[string]any
}

// Defaults fill template values the catalog leaves unset.
type Defaults struct {
	MaxRetries int
	Timeout    time.Duration
}

// DefaultsFromConfig reads retry and timeout defaults from [workflow].
func DefaultsFromConfig(cfg *config.Config) Defaults {
	if cfg == nil {
		return Defaults{}
	}
	return Defaults{MaxRetries: cfg.Workflow.DefaultMaxRetries, Timeout: cfg.WorkflowTimeout()}
}

// Instantiate builds a pending execution for req with a new uuid.
func (c *Catalog) Instantiate(req Request, defaults Defaults, opts ...workflow.ExecutionOption) (*workflow.Execution, error) {
	tpl, ok := c.Get(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownType, req.Type, strings.Join(c.Types(), ", "))
	}
	var missing []string
	for _, key := range tpl.RequiredInputs {
		if value, ok := req.Inputs[key]; !ok || value == nil || value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w for %s: %s", ErrMissingInput, tpl.Type, strings.Join(missing, ", "))
	}

	maxRetries := defaults.MaxRetries
	if tpl.MaxRetries != nil {
		maxRetries = *tpl.MaxRetries
	}
	timeout := defaults.Timeout
	if tpl.TimeoutSeconds != nil {
		timeout = time.Duration(*tpl.TimeoutSeconds) * time.Second
	}

	return workflow.NewExecution(workflow.Definition{
		ID:              uuid.NewString(),
		Type:            tpl.Type,
		UserID:          req.UserID,
		Steps:           tpl.WorkflowSteps(),
		InputParameters: maps.Clone(req.Inputs),
		MaxRetries:      maxRetries,
		Timeout:         timeout,
	}, opts...)
}

// ParseInputs turns key=value pairs into input parameters. Values stay strings.
func ParseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("input %q must be key=value", pair)
		}
		inputs[key] = strings.TrimSpace(value)
	}
	return inputs, nil
}
