package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServices(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeAudit()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.WorkflowsFile = strings.TrimSpace(c.Paths.WorkflowsFile)
	if c.Paths.WorkflowsFile != "" {
		if c.Paths.WorkflowsFile, err = expandPath(c.Paths.WorkflowsFile); err != nil {
			return fmt.Errorf("paths.workflows_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeServices() error {
	normalized := make(map[string]Service, len(c.Services))
	for rawName, svc := range c.Services {
		name := strings.ToLower(strings.TrimSpace(rawName))
		if name == "" {
			return fmt.Errorf("services: empty service name")
		}
		if _, dup := normalized[name]; dup {
			return fmt.Errorf("services.%s: declared more than once", name)
		}
		svc.Host = strings.TrimSpace(svc.Host)
		if svc.Host == "" {
			svc.Host = defaultServiceHost
		}
		svc.HealthEndpoint = strings.TrimSpace(svc.HealthEndpoint)
		if svc.HealthEndpoint == "" {
			svc.HealthEndpoint = defaultHealthEndpoint
		}
		if !strings.HasPrefix(svc.HealthEndpoint, "/") {
			svc.HealthEndpoint = "/" + svc.HealthEndpoint
		}
		if value, ok := os.LookupEnv(apiKeyEnvName(name)); ok && strings.TrimSpace(value) != "" {
			svc.APIKey = value
		}
		svc.APIKey = strings.TrimSpace(svc.APIKey)
		normalized[name] = svc
	}
	c.Services = normalized
	return nil
}

// apiKeyEnvName maps a service name to its API key environment variable,
// e.g. "radarr" -> RADARR_API_KEY.
func apiKeyEnvName(service string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(service) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	b.WriteString("_API_KEY")
	return b.String()
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxConcurrentCalls <= 0 {
		c.Workflow.MaxConcurrentCalls = defaultMaxConcurrentCalls
	}
	if c.Workflow.MaxConcurrentWorkflows <= 0 {
		c.Workflow.MaxConcurrentWorkflows = defaultMaxConcurrentWorkflows
	}
	if c.Workflow.LayerConcurrency < 0 {
		c.Workflow.LayerConcurrency = 0
	}
	if c.Workflow.DefaultStepTimeout <= 0 {
		c.Workflow.DefaultStepTimeout = defaultStepTimeoutSeconds
	}
	if c.Workflow.HealthCheckTimeout <= 0 {
		c.Workflow.HealthCheckTimeout = defaultHealthCheckTimeout
	}
	if c.Workflow.ErrorBodyLimit <= 0 {
		c.Workflow.ErrorBodyLimit = defaultErrorBodyLimit
	}
}

func (c *Config) normalizeAudit() {
	lenses := make([]string, 0, len(c.Audit.Lenses))
	seen := make(map[string]struct{}, len(c.Audit.Lenses))
	for _, lens := range c.Audit.Lenses {
		normalized := strings.ToLower(strings.TrimSpace(lens))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		lenses = append(lenses, normalized)
	}
	c.Audit.Lenses = lenses
	if c.Audit.SlowStepSeconds <= 0 {
		c.Audit.SlowStepSeconds = defaultSlowStepSeconds
	}
}

func (c *Config) normalizeHistory() error {
	var err error
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("MEDIAFLOW_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
