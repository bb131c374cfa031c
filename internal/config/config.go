package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file location configuration.
type Paths struct {
	StateDir      string `toml:"state_dir"`
	LogDir        string `toml:"log_dir"`
	WorkflowsFile string `toml:"workflows_file"`
}

// Service describes how to reach one service of the media stack.
type Service struct {
	Host           string `toml:"host"`
	APIPort        int    `toml:"api_port"`
	HealthEndpoint string `toml:"health_endpoint"`
	APIKey         string `toml:"api_key"`
}

// Workflow contains orchestration limits and timing.
type Workflow struct {
	MaxConcurrentCalls     int `toml:"max_concurrent_calls"`
	MaxConcurrentWorkflows int `toml:"max_concurrent_workflows"`
	LayerConcurrency       int `toml:"layer_concurrency"`
	DefaultMaxRetries      int `toml:"default_max_retries"`
	DefaultStepTimeout     int `toml:"default_step_timeout"`
	WorkflowTimeout        int `toml:"workflow_timeout"`
	StepRetryBackoffMillis int `toml:"step_retry_backoff_ms"`
	HealthCheckTimeout     int `toml:"health_check_timeout"`
	ErrorBodyLimit         int `toml:"error_body_limit"`
}

// Audit contains configuration for the best-effort audit hook.
type Audit struct {
	Enabled         bool     `toml:"enabled"`
	Lenses          []string `toml:"lenses"`
	SlowStepSeconds int      `toml:"slow_step_seconds"`
}

// History contains configuration for the run history database.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and the workflow catalog override
//   - Services: host, port, health endpoint and API key per stack service
//   - Workflow: concurrency caps, retries and timeouts for the dispatcher
//   - Audit: lens selection for the audit hook
//   - History: SQLite run history
//   - Logging: log format and level
type Config struct {
	Paths    Paths              `toml:"paths"`
	Services map[string]Service `toml:"services"`
	Workflow Workflow           `toml:"workflow"`
	Audit    Audit              `toml:"audit"`
	History  History            `toml:"history"`
	Logging  Logging            `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediaflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ServiceNames returns the configured service names in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StepTimeout returns the fallback timeout applied to steps that do not set one.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Workflow.DefaultStepTimeout) * time.Second
}

// WorkflowTimeout returns the default workflow deadline; zero disables it.
func (c *Config) WorkflowTimeout() time.Duration {
	return time.Duration(c.Workflow.WorkflowTimeout) * time.Second
}

// StepRetryBackoff returns the base delay between per-step retry attempts.
func (c *Config) StepRetryBackoff() time.Duration {
	return time.Duration(c.Workflow.StepRetryBackoffMillis) * time.Millisecond
}

// HealthCheckTimeout bounds a single service health probe.
func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.Workflow.HealthCheckTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
