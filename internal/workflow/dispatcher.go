package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

var errWorkflowDeadline = errors.New("workflow deadline exceeded")

// DispatcherConfig wires a Dispatcher's collaborators and limits.
type DispatcherConfig struct {
	Adapter ServiceAdapter
	// Gate runs before the first layer of every dispatch entry; nil skips it.
	Gate  *HealthGate
	Hooks []AuditHook
	// Policy defaults to FailFast.
	Policy FailurePolicy
	// Calls bounds outbound calls; shared across dispatchers to cap a whole process.
	Calls *semaphore.Weighted
	// LayerConcurrency caps goroutines per layer; zero runs the whole layer at once.
	LayerConcurrency int
	// StepTimeout applies to steps that do not set their own.
	StepTimeout      time.Duration
	StepRetryBackoff time.Duration
	Logger           *slog.Logger
}

// Dispatcher drives executions layer by layer until they reach a terminal
// status. One Dispatcher may drive many executions concurrently.
type Dispatcher struct {
	adapter      ServiceAdapter
	gate         *HealthGate
	resolver     Resolver
	policy       FailurePolicy
	calls        *semaphore.Weighted
	layerLimit   int
	stepTimeout  time.Duration
	retryBackoff time.Duration
	hooks        *hookRunner
	logger       *slog.Logger
}

type stepOutcome struct {
	result   StepResult
	err      error
	attempts int
}

// NewDispatcher constructs a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := logging.NewComponentLogger(cfg.Logger, "dispatcher")
	policy := cfg.Policy
	if policy == nil {
		policy = FailFast
	}
	return &Dispatcher{
		adapter:      cfg.Adapter,
		gate:         cfg.Gate,
		policy:       policy,
		calls:        cfg.Calls,
		layerLimit:   cfg.LayerConcurrency,
		stepTimeout:  cfg.StepTimeout,
		retryBackoff: cfg.StepRetryBackoff,
		hooks:        &hookRunner{hooks: cfg.Hooks, logger: logging.NewComponentLogger(cfg.Logger, "audit")},
		logger:       logger,
	}
}

// WaitHooks blocks until every audit hook fired so far has returned.
func (d *Dispatcher) WaitHooks() {
	d.hooks.wait()
}

// Run dispatches a pending or retrying execution until it is terminal or
// paused-and-cancelled. Failures are recorded on the execution; the returned
// error only reports misuse, such as an execution in the wrong status or a
// context that ended before dispatch began.
func (d *Dispatcher) Run(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return errors.New("dispatch: nil execution")
	}
	if d.adapter == nil {
		return errors.New("dispatch: no service adapter configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch status := exec.Status(); status {
	case StatusPending:
		if err := exec.begin(); err != nil {
			return err
		}
	case StatusRetrying:
	default:
		return fmt.Errorf("%w: cannot dispatch workflow in status %s", ErrIllegalTransition, status)
	}

	logger := d.logger.With(
		logging.String(logging.FieldWorkflowID, exec.ID()),
		logging.String(logging.FieldWorkflowType, exec.Type()),
	)
	logger.Info("workflow dispatch started",
		logging.Int("steps", len(exec.steps)),
		logging.Int("retry_count", exec.RetryCount()),
		logging.String(logging.FieldEventType, "workflow_started"),
	)

	if err := d.gate.Validate(ctx, exec); err != nil {
		if ctx.Err() != nil {
			d.stopForContext(ctx, exec, logger)
			return nil
		}
		if ferr := exec.fail(err); ferr != nil {
			logger.Debug("health gate result discarded", logging.Error(ferr))
			return nil
		}
		logging.ErrorWithContext(logger, "workflow blocked by health gate", "health_gate_failed",
			append(logging.ErrorAttrs(err),
				logging.String(logging.FieldErrorHint, "start the listed services or fix their configuration"),
			)...,
		)
		return nil
	}

	if err := exec.transition(StatusRunning); err != nil {
		if exec.Status() == StatusCancelled {
			return nil
		}
		return err
	}

	runCtx := ctx
	if timeout := exec.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, errWorkflowDeadline)
		defer cancel()
	}
	d.loop(runCtx, exec, logger)
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, exec *Execution, logger *slog.Logger) {
	sampler := logging.NewProgressSampler(10)
	for {
		status, changed := exec.watch()
		switch status {
		case StatusRunning:
		case StatusPaused:
			logger.Info("workflow paused; waiting for resume",
				logging.String(logging.FieldEventType, "workflow_paused"),
			)
			select {
			case <-changed:
				continue
			case <-ctx.Done():
			}
		case StatusCancelled:
			logger.Info("workflow cancelled",
				logging.String("reason", exec.ErrorMessage()),
				logging.String(logging.FieldEventType, "workflow_cancelled"),
			)
			return
		default:
			return
		}

		if ctx.Err() != nil {
			d.stopForContext(ctx, exec, logger)
			return
		}

		ready := d.resolver.Ready(exec)
		if len(ready) == 0 {
			if d.finish(ctx, exec, logger) {
				return
			}
			continue
		}

		d.hooks.fire(ctx, hookBefore, exec)
		ids := make([]string, len(ready))
		for i, step := range ready {
			ids[i] = step.ID
		}
		calls := exec.startLayer(ids)
		layer := 0
		if len(calls) > 0 {
			layer = calls[0].Layer
		}
		logger.Debug("layer dispatched",
			logging.Int("layer", layer),
			logging.Any("steps", ids),
			logging.String(logging.FieldEventType, "layer_dispatched"),
		)
		outcomes := d.runLayer(ctx, calls, logger)

		if exec.Status() == StatusCancelled {
			exec.discard(ids)
			logger.Info("layer results discarded after cancellation",
				logging.Int("layer", layer),
				logging.String(logging.FieldEventType, "layer_discarded"),
			)
			continue
		}
		if ctx.Err() != nil {
			exec.discard(ids)
			logger.Info("layer results discarded after context ended",
				logging.Int("layer", layer),
				logging.String(logging.FieldEventType, "layer_discarded"),
			)
			d.stopForContext(ctx, exec, logger)
			return
		}

		var failures []StepFailure
		for i, call := range calls {
			outcome := outcomes[i]
			if outcome.err != nil {
				exec.recordFailure(call.Step.ID, outcome.err, outcome.attempts)
				failures = append(failures, StepFailure{Step: call.Step, Err: outcome.err})
				continue
			}
			exec.recordSuccess(call.Step.ID, outcome.result, outcome.attempts)
		}
		progress := exec.updateProgress()
		if sampler.ShouldLog(progress, layer) {
			logger.Info("workflow progress",
				logging.Int("layer", layer),
				logging.Float64(logging.FieldProgress, progress),
				logging.Int("layer_failures", len(failures)),
				logging.String(logging.FieldEventType, "workflow_progress"),
			)
		}
		d.hooks.fire(ctx, hookAfter, exec)

		if err := d.policy(failures); err != nil {
			if ferr := exec.fail(err); ferr != nil {
				continue
			}
			logging.ErrorWithContext(logger, "workflow failed", "workflow_failed",
				append(logging.ErrorAttrs(err),
					logging.Any("failed_steps", exec.FailedSteps()),
					logging.Alert("workflow_failure"),
					logging.String(logging.FieldErrorHint, "inspect the failing service, then retry the workflow"),
				)...,
			)
			return
		}
	}
}

// finish handles an empty ready set: either every required step completed
// or the remaining steps can never run. It returns false when a concurrent
// pause interrupted the decision and the loop should wait again.
func (d *Dispatcher) finish(ctx context.Context, exec *Execution, logger *slog.Logger) bool {
	if err := exec.complete(); err == nil {
		logger.Info("workflow completed",
			logging.Float64(logging.FieldProgress, 100),
			logging.String(logging.FieldEventType, "workflow_completed"),
		)
		d.hooks.fire(ctx, hookAfter, exec)
		return true
	}
	switch status := exec.Status(); {
	case status == StatusPaused:
		return false
	case status.IsTerminal():
		return true
	}
	unresolved, blocked := d.resolver.DetectStuck(exec)
	if len(blocked) == 0 {
		// Required steps unfinished with nothing pending means a step failed
		// outside the policy; report it as stuck on those steps.
		blocked = exec.unfinished()
	}
	exec.block(blocked)
	stuck := &StuckError{Unresolved: unresolved, Blocked: blocked}
	if err := exec.fail(stuck); err != nil {
		return true
	}
	logging.ErrorWithContext(logger, "workflow stuck", "workflow_stuck",
		logging.Any("unresolved", unresolved),
		logging.Any("blocked", blocked),
		logging.String(logging.FieldErrorKind, KindStuck),
		logging.String(logging.FieldErrorHint, "check depends_on references in the workflow definition"),
	)
	return true
}

// stopForContext ends a run whose context finished: the workflow deadline
// produces a timeout, anything else a cancellation.
func (d *Dispatcher) stopForContext(ctx context.Context, exec *Execution, logger *slog.Logger) {
	if errors.Is(context.Cause(ctx), errWorkflowDeadline) {
		err := &TimeoutError{Timeout: exec.Timeout().String(), Pending: exec.unfinished()}
		if exec.expire(err) == nil {
			logging.WarnWithContext(logger, "workflow timed out", "workflow_timeout",
				logging.String(logging.FieldErrorKind, KindTimeout),
				logging.Any("unfinished", err.Pending),
				logging.String(logging.FieldImpact, "unfinished steps did not run"),
				logging.String(logging.FieldErrorHint, "raise the workflow timeout or retry the workflow"),
			)
		}
		return
	}
	if exec.Cancel(fmt.Sprintf("dispatch context ended: %v", context.Cause(ctx))) == nil {
		logger.Info("workflow cancelled by context",
			logging.String(logging.FieldEventType, "workflow_cancelled"),
		)
	}
}

func (d *Dispatcher) runLayer(ctx context.Context, calls []StepCall, logger *slog.Logger) []stepOutcome {
	outcomes := make([]stepOutcome, len(calls))
	var group errgroup.Group
	if d.layerLimit > 0 {
		group.SetLimit(d.layerLimit)
	}
	for i, call := range calls {
		group.Go(func() error {
			outcomes[i] = d.runStep(ctx, call, logger)
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// runStep executes one step, retrying in place up to the step's MaxRetries
// with linear backoff when the failure is transient.
func (d *Dispatcher) runStep(ctx context.Context, call StepCall, logger *slog.Logger) stepOutcome {
	step := call.Step
	stepCtx := services.WithWorkflowID(ctx, call.WorkflowID)
	stepCtx = services.WithStepID(stepCtx, step.ID)
	stepCtx = services.WithService(stepCtx, step.Service)

	for attempt := 1; ; attempt++ {
		call.Attempt = attempt
		callCtx := services.WithRequestID(stepCtx, uuid.NewString())
		stepLogger := logging.WithContext(callCtx, logger)
		stepLogger.Debug("step dispatched",
			logging.Int("attempt", attempt),
			logging.String("method", step.Method),
			logging.String("endpoint", step.Endpoint),
		)

		result, err := d.callOnce(callCtx, call)
		if err == nil {
			stepLogger.Info("step completed",
				logging.Int("attempt", attempt),
				logging.Duration("duration", result.Duration),
				logging.String(logging.FieldEventType, "step_completed"),
			)
			return stepOutcome{result: result, attempts: attempt}
		}

		if attempt > step.MaxRetries || !retryable(err) || ctx.Err() != nil {
			logging.WarnWithContext(stepLogger, "step failed", "step_failed",
				append(logging.ErrorAttrs(err),
					logging.Int("attempt", attempt),
					logging.String(logging.FieldImpact, "workflow failure policy will decide the outcome"),
					logging.String(logging.FieldErrorHint, "check "+step.Service+" logs for the failing request"),
				)...,
			)
			return stepOutcome{err: err, attempts: attempt}
		}

		delay := d.retryBackoff * time.Duration(attempt)
		logging.WarnWithContext(stepLogger, "step attempt failed; retrying", "step_retry",
			append(logging.ErrorAttrs(err),
				logging.Int("attempt", attempt),
				logging.Int("max_retries", step.MaxRetries),
				logging.Duration("backoff", delay),
				logging.String(logging.FieldImpact, "step is retried in place"),
			)...,
		)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return stepOutcome{err: err, attempts: attempt}
			case <-timer.C:
			}
		}
	}
}

func (d *Dispatcher) callOnce(ctx context.Context, call StepCall) (result StepResult, err error) {
	if d.calls != nil {
		if err := d.calls.Acquire(ctx, 1); err != nil {
			return StepResult{}, services.Wrap(services.ErrTimeout, "dispatcher", "acquire call slot", "", err)
		}
		defer d.calls.Release(1)
	}

	timeout := call.Step.Timeout()
	if timeout <= 0 {
		timeout = d.stepTimeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panic: %v", rec)
		}
	}()

	start := time.Now()
	result, err = d.adapter.Execute(callCtx, call)
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, "dispatcher", "execute step",
			fmt.Sprintf("no response within %s", timeout), err)
	}
	return result, err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, services.ErrConfiguration),
		errors.Is(err, services.ErrValidation):
		return false
	}
	var execErr *services.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Transient()
	}
	return true
}
