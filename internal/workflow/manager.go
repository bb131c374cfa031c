package workflow

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
)

// Recorder persists terminal workflow summaries.
type Recorder interface {
	Record(ctx context.Context, summary Summary) error
}

// Manager owns executions submitted by callers, bounds how many dispatch at
// once, and records their terminal outcomes.
type Manager struct {
	cfg        *config.Config
	logger     *slog.Logger
	dispatcher *Dispatcher
	retry      RetryController
	recorder   Recorder
	autoRetry  bool
	slots      *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runs    map[string]*trackedRun
	order   []string
	stopped bool
	lastErr error
}

type trackedRun struct {
	exec   *Execution
	active bool
	done   chan struct{}
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	hooks     []AuditHook
	recorder  Recorder
	registry  HealthRegistry
	policy    FailurePolicy
	autoRetry bool
}

// WithAuditHooks registers best-effort observers for every dispatched layer.
func WithAuditHooks(hooks ...AuditHook) ManagerOption {
	return func(o *managerOptions) {
		for _, hook := range hooks {
			if hook != nil {
				o.hooks = append(o.hooks, hook)
			}
		}
	}
}

// WithRecorder stores terminal summaries, e.g. in the run history database.
func WithRecorder(recorder Recorder) ManagerOption {
	return func(o *managerOptions) { o.recorder = recorder }
}

// WithHealthRegistry enables the pre-flight health gate.
func WithHealthRegistry(registry HealthRegistry) ManagerOption {
	return func(o *managerOptions) { o.registry = registry }
}

// WithFailurePolicy replaces the default fail-fast policy.
func WithFailurePolicy(policy FailurePolicy) ManagerOption {
	return func(o *managerOptions) { o.policy = policy }
}

// WithAutoRetry re-enters failed or timed-out workflows while retry budget
// remains. Health-gate and stuck failures are never retried automatically.
func WithAutoRetry(enabled bool) ManagerOption {
	return func(o *managerOptions) { o.autoRetry = enabled }
}

// NewManager constructs a manager that dispatches through adapter.
func NewManager(cfg *config.Config, adapter ServiceAdapter, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	logger = logging.NewComponentLogger(logger, "workflow-manager")

	var gate *HealthGate
	if options.registry != nil {
		gate = NewHealthGate(options.registry, cfg.HealthCheckTimeout(), logger)
	}
	dispatcher := NewDispatcher(DispatcherConfig{
		Adapter:          adapter,
		Gate:             gate,
		Hooks:            options.hooks,
		Policy:           options.policy,
		Calls:            semaphore.NewWeighted(int64(max(cfg.Workflow.MaxConcurrentCalls, 1))),
		LayerConcurrency: cfg.Workflow.LayerConcurrency,
		StepTimeout:      cfg.StepTimeout(),
		StepRetryBackoff: cfg.StepRetryBackoff(),
		Logger:           logger,
	})

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		retry:      NewRetryController(logger),
		recorder:   options.recorder,
		autoRetry:  options.autoRetry,
		slots:      semaphore.NewWeighted(int64(max(cfg.Workflow.MaxConcurrentWorkflows, 1))),
		baseCtx:    baseCtx,
		cancel:     cancel,
		runs:       make(map[string]*trackedRun),
	}
}
