package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServices() error {
	if len(c.Services) == 0 {
		return errors.New("at least one [services.<name>] entry is required")
	}
	for _, name := range c.ServiceNames() {
		svc := c.Services[name]
		if svc.APIPort <= 0 || svc.APIPort > 65535 {
			return fmt.Errorf("services.%s.api_port must be between 1 and 65535", name)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrent_calls":     c.Workflow.MaxConcurrentCalls,
		"workflow.max_concurrent_workflows": c.Workflow.MaxConcurrentWorkflows,
		"workflow.default_step_timeout":     c.Workflow.DefaultStepTimeout,
		"workflow.health_check_timeout":     c.Workflow.HealthCheckTimeout,
		"workflow.error_body_limit":         c.Workflow.ErrorBodyLimit,
	}); err != nil {
		return err
	}
	if c.Workflow.DefaultMaxRetries < 0 {
		return errors.New("workflow.default_max_retries must not be negative")
	}
	if c.Workflow.StepRetryBackoffMillis < 0 {
		return errors.New("workflow.step_retry_backoff_ms must not be negative")
	}
	if c.Workflow.WorkflowTimeout < 0 {
		return errors.New("workflow.workflow_timeout must not be negative (0 disables it)")
	}
	if c.Workflow.LayerConcurrency > c.Workflow.MaxConcurrentCalls {
		return errors.New("workflow.layer_concurrency must not exceed workflow.max_concurrent_calls")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
