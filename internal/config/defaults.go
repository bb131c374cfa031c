package config

const (
	defaultStateDir               = "~/.local/share/mediaflow"
	defaultLogDir                 = "~/.local/share/mediaflow/logs"
	defaultHistoryPath            = "~/.local/share/mediaflow/history.db"
	defaultServiceHost            = "localhost"
	defaultHealthEndpoint         = "/health"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultMaxConcurrentCalls     = 8
	defaultMaxConcurrentWorkflows = 4
	defaultMaxRetries             = 2
	defaultStepTimeoutSeconds     = 30
	defaultStepRetryBackoffMillis = 500
	defaultHealthCheckTimeout     = 5
	defaultErrorBodyLimit         = 512
	defaultSlowStepSeconds        = 60
	defaultLogRetentionDays       = 14
)

// defaultServices mirrors the stock ports of the media stack the bundled
// workflow catalog targets.
func defaultServices() map[string]Service {
	return map[string]Service{
		"prowlarr":    {Host: defaultServiceHost, APIPort: 9696, HealthEndpoint: "/api/v1/health"},
		"radarr":      {Host: defaultServiceHost, APIPort: 7878, HealthEndpoint: "/api/v3/health"},
		"sonarr":      {Host: defaultServiceHost, APIPort: 8989, HealthEndpoint: "/api/v3/health"},
		"qbittorrent": {Host: defaultServiceHost, APIPort: 8080, HealthEndpoint: "/api/v2/app/version"},
		"jellyfin":    {Host: defaultServiceHost, APIPort: 8096, HealthEndpoint: "/health"},
		"recommender": {Host: defaultServiceHost, APIPort: 8700, HealthEndpoint: defaultHealthEndpoint},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Services: defaultServices(),
		Workflow: Workflow{
			MaxConcurrentCalls:     defaultMaxConcurrentCalls,
			MaxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
			DefaultMaxRetries:      defaultMaxRetries,
			DefaultStepTimeout:     defaultStepTimeoutSeconds,
			StepRetryBackoffMillis: defaultStepRetryBackoffMillis,
			HealthCheckTimeout:     defaultHealthCheckTimeout,
			ErrorBodyLimit:         defaultErrorBodyLimit,
		},
		Audit: Audit{
			Enabled:         true,
			Lenses:          []string{"reliability", "performance", "retry"},
			SlowStepSeconds: defaultSlowStepSeconds,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
