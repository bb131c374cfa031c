package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaflow/internal/logging"
)

// ErrManagerStopped is returned for work submitted after Stop.
var ErrManagerStopped = errors.New("workflow manager stopped")

// ErrUnknownWorkflow is returned when an id is not tracked by the manager.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Run dispatches exec and blocks until it is terminal. The outcome is
// recorded on exec; the error only reports misuse or a stopped manager.
func (m *Manager) Run(ctx context.Context, exec *Execution) error {
	run, err := m.track(exec)
	if err != nil {
		return err
	}
	runCtx, cancel := m.runContext(ctx)
	defer cancel()
	return m.drive(runCtx, run)
}

// Submit dispatches exec in the background and returns immediately. The run
// is bound to the manager's lifetime rather than ctx.
func (m *Manager) Submit(ctx context.Context, exec *Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := m.track(exec)
	if err != nil {
		return err
	}
	m.goDrive(run)
	return nil
}

// Retry re-enters a failed or timed-out workflow in the background.
func (m *Manager) Retry(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	if run.active {
		m.mu.Unlock()
		return fmt.Errorf("workflow %s is still running", id)
	}
	if err := m.retry.Retry(run.exec); err != nil {
		m.mu.Unlock()
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			m.recordOutcome(run.exec)
		}
		return err
	}
	run.active = true
	run.done = make(chan struct{})
	m.mu.Unlock()

	m.goDrive(run)
	return nil
}

// Wait blocks until the workflow's current dispatch finishes and returns its summary.
func (m *Manager) Wait(ctx context.Context, id string) (Summary, error) {
	m.mu.RLock()
	run, ok := m.runs[id]
	var done chan struct{}
	if ok {
		done = run.done
	}
	m.mu.RUnlock()
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	select {
	case <-done:
		return run.exec.Summary(), nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// Cancel marks a workflow cancelled; in-flight step calls finish and are discarded.
func (m *Manager) Cancel(id, reason string) error {
	exec, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	if err := exec.Cancel(reason); err != nil {
		return err
	}
	m.logger.Info("workflow cancel requested",
		logging.String(logging.FieldWorkflowID, id),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "workflow_cancel_requested"),
	)
	m.mu.RLock()
	active := m.runs[id].active
	m.mu.RUnlock()
	if !active {
		m.recordOutcome(exec)
	}
	return nil
}

// Pause stops a running workflow from starting new layers.
func (m *Manager) Pause(id string) error {
	exec, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return exec.Pause()
}

// Resume continues a paused workflow.
func (m *Manager) Resume(id string) error {
	exec, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return exec.Resume()
}

// Get returns the tracked execution with the given id.
func (m *Manager) Get(id string) (*Execution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return run.exec, true
}

// Stop cancels outstanding dispatches, waits for them and for audit hooks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.dispatcher.WaitHooks()
}

func (m *Manager) track(exec *Execution) (*trackedRun, error) {
	if exec == nil {
		return nil, errors.New("workflow manager: nil execution")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrManagerStopped
	}
	if existing, ok := m.runs[exec.ID()]; ok {
		if existing.active {
			return nil, fmt.Errorf("workflow %s is already running", exec.ID())
		}
		if existing.exec != exec {
			return nil, fmt.Errorf("workflow id %s already used", exec.ID())
		}
	} else {
		m.order = append(m.order, exec.ID())
	}
	run := &trackedRun{exec: exec, active: true, done: make(chan struct{})}
	m.runs[exec.ID()] = run
	return run, nil
}

// runContext ends when either the caller's ctx or the manager ends.
func (m *Manager) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.baseCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (m *Manager) goDrive(run *trackedRun) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.drive(m.baseCtx, run); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("background dispatch failed",
				logging.String(logging.FieldWorkflowID, run.exec.ID()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
			)
		}
	}()
}

// drive holds a workflow slot for the whole dispatch, including automatic retries.
func (m *Manager) drive(ctx context.Context, run *trackedRun) (err error) {
	exec := run.exec
	defer func() {
		m.mu.Lock()
		run.active = false
		close(run.done)
		m.mu.Unlock()
		if err != nil {
			m.setLastError(err)
		}
	}()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		if cancelErr := exec.Cancel("cancelled before dispatch: " + err.Error()); cancelErr == nil {
			m.recordOutcome(exec)
		}
		return err
	}
	defer m.slots.Release(1)

	for {
		if err := m.dispatcher.Run(ctx, exec); err != nil {
			if exec.Status() == StatusRetrying && exec.Cancel("cancelled before retry dispatch: "+err.Error()) == nil {
				m.recordOutcome(exec)
			}
			return err
		}
		if !m.shouldAutoRetry(exec) {
			break
		}
		if err := m.retry.Retry(exec); err != nil {
			break
		}
		if delay := m.cfg.StepRetryBackoff() * time.Duration(exec.RetryCount()); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				_ = exec.Cancel("cancelled while waiting to retry")
				m.recordOutcome(exec)
				return nil
			case <-timer.C:
			}
		}
	}
	m.recordOutcome(exec)
	return nil
}

func (m *Manager) shouldAutoRetry(exec *Execution) bool {
	if !m.autoRetry || !m.retry.CanRetry(exec) {
		return false
	}
	switch exec.ErrorKind() {
	case KindStepExecution, KindTimeout:
		return true
	default:
		return false
	}
}
