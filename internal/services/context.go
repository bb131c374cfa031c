package services

import "context"

type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	stepIDKey     contextKey = "step_id"
	serviceKey    contextKey = "service"
	requestIDKey  contextKey = "request_id"
)

// WithWorkflowID annotates context with the workflow execution identifier.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowIDFromContext extracts the workflow identifier if present.
func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workflowIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStepID annotates context with the workflow step identifier.
func WithStepID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, stepIDKey, id)
}

// StepIDFromContext returns the step identifier if present.
func StepIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithService annotates context with the name of the service a step targets.
func WithService(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, serviceKey, name)
}

// ServiceFromContext returns the service name if present.
func ServiceFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(serviceKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
