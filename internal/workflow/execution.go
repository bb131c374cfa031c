package workflow

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is the definition of one unit of work in a workflow. Steps are copied
// into an Execution at construction and never change afterwards; runtime
// state lives on the Execution.
type Step struct {
	ID             string
	Name           string
	Service        string
	Endpoint       string
	Method         string
	TimeoutSeconds int
	DependsOn      []string
	Required       bool
	// InputMapping maps call parameter -> context or input key.
	InputMapping map[string]string
	// OutputMapping maps result key -> context key.
	OutputMapping map[string]string
	// MaxRetries bounds in-layer retries of this step; 0 disables them.
	MaxRetries int
}

// Timeout returns the step's own timeout, zero when it relies on the default.
func (s Step) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s Step) clone() Step {
	out := s
	out.DependsOn = slices.Clone(s.DependsOn)
	out.InputMapping = maps.Clone(s.InputMapping)
	out.OutputMapping = maps.Clone(s.OutputMapping)
	return out
}

type stepState struct {
	status      StepStatus
	result      map[string]any
	err         string
	startedAt   time.Time
	completedAt time.Time
	attempts    int
}

// Definition carries everything needed to construct an Execution.
type Definition struct {
	ID              string
	Type            string
	UserID          string
	Steps           []Step
	InputParameters map[string]any
	MaxRetries      int
	Timeout         time.Duration
}

// ExecutionOption configures optional Execution behavior.
type ExecutionOption func(*executionOptions)

type executionOptions struct {
	skipGraphValidation bool
	now                 func() time.Time
}

// WithoutGraphValidation skips dependency and output-key validation so the
// dispatcher's stuck detection is the only guard. Step ids are still checked.
func WithoutGraphValidation() ExecutionOption {
	return func(o *executionOptions) { o.skipGraphValidation = true }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) ExecutionOption {
	return func(o *executionOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Execution is the aggregate state of one workflow run. All fields are
// guarded by mu; only the dispatcher driving the execution mutates steps,
// while Cancel, Pause and Resume may be called from any goroutine.
type Execution struct {
	mu sync.Mutex

	id         string
	kind       string
	userID     string
	steps      []Step
	index      map[string]int
	inputs     map[string]any
	maxRetries int
	timeout    time.Duration
	now        func() time.Time

	status      Status
	progress    float64
	contextData map[string]any
	states      []stepState
	failed      map[string]struct{}
	retryCount  int
	startedAt   time.Time
	completedAt time.Time
	errMessage  string
	errKind     string
	lastErr     error
	layers      int
	changed     chan struct{}
}

// NewExecution validates def and returns a pending execution. A
// *ConfigurationError is returned for an invalid step graph and no
// execution is produced.
func NewExecution(def Definition, opts ...ExecutionOption) (*Execution, error) {
	options := executionOptions{now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	id := strings.TrimSpace(def.ID)
	if id == "" {
		id = uuid.NewString()
	}

	steps := make([]Step, len(def.Steps))
	for i, step := range def.Steps {
		steps[i] = step.clone()
		steps[i].ID = strings.TrimSpace(steps[i].ID)
		steps[i].Service = strings.ToLower(strings.TrimSpace(steps[i].Service))
		steps[i].Method = strings.ToUpper(strings.TrimSpace(steps[i].Method))
		if steps[i].Method == "" {
			steps[i].Method = "GET"
		}
		if steps[i].Name == "" {
			steps[i].Name = steps[i].ID
		}
		if steps[i].MaxRetries < 0 {
			steps[i].MaxRetries = 0
		}
	}

	var problems []string
	if options.skipGraphValidation {
		problems = validateStepIDs(steps)
	} else {
		problems = graphProblems(steps)
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{WorkflowID: id, Problems: problems}
	}

	index := make(map[string]int, len(steps))
	states := make([]stepState, len(steps))
	for i, step := range steps {
		index[step.ID] = i
		states[i] = stepState{status: StepPending}
	}

	maxRetries := def.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeout := def.Timeout
	if timeout < 0 {
		timeout = 0
	}

	return &Execution{
		id:          id,
		kind:        strings.TrimSpace(def.Type),
		userID:      strings.TrimSpace(def.UserID),
		steps:       steps,
		index:       index,
		inputs:      maps.Clone(def.InputParameters),
		maxRetries:  maxRetries,
		timeout:     timeout,
		now:         options.now,
		status:      StatusPending,
		contextData: make(map[string]any),
		states:      states,
		failed:      make(map[string]struct{}),
		changed:     make(chan struct{}),
	}, nil
}

func (e *Execution) ID() string     { return e.id }
func (e *Execution) Type() string   { return e.kind }
func (e *Execution) UserID() string { return e.userID }

// MaxRetries is the whole-workflow retry budget.
func (e *Execution) MaxRetries() int { return e.maxRetries }

// Timeout is the workflow deadline applied on each dispatch entry; zero disables it.
func (e *Execution) Timeout() time.Duration { return e.timeout }

// Steps returns copies of the step definitions in workflow order.
func (e *Execution) Steps() []Step {
	out := make([]Step, len(e.steps))
	for i, step := range e.steps {
		out[i] = step.clone()
	}
	return out
}

// Step returns a copy of the step definition with the given id.
func (e *Execution) Step(id string) (Step, bool) {
	idx, ok := e.index[id]
	if !ok {
		return Step{}, false
	}
	return e.steps[idx].clone(), true
}

func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Execution) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Execution) RetryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount
}

// ErrorMessage is the human-readable reason for the last failure.
func (e *Execution) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMessage
}

// ErrorKind is the classified kind of the last failure.
func (e *Execution) ErrorKind() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errKind
}

// Err returns the error recorded with the last failure, if any.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// StepStatus returns the current status of the step with the given id.
func (e *Execution) StepStatus(id string) (StepStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.index[id]
	if !ok {
		return "", false
	}
	return e.states[idx].status, true
}

// ContextData returns a shallow copy of the shared context map.
func (e *Execution) ContextData() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.contextData)
}

// FailedSteps returns the ids of failed steps in sorted order.
func (e *Execution) FailedSteps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.failed)
}

// Cancel moves the execution to cancelled. In-flight step calls are not
// interrupted; the dispatcher discards their results at the next layer boundary.
func (e *Execution) Cancel(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setStatusLocked(StatusCancelled); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by request"
	}
	e.errMessage = reason
	e.errKind = KindCancelled
	e.lastErr = nil
	return nil
}

// Pause stops the dispatcher from starting new layers until Resume is called.
func (e *Execution) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setStatusLocked(StatusPaused)
}

// Resume lets a paused execution continue dispatching.
func (e *Execution) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return fmt.Errorf("%w: resume requires paused, have %s", ErrIllegalTransition, e.status)
	}
	return e.setStatusLocked(StatusRunning)
}

// setStatusLocked applies a validated transition and maintains the
// completed_at invariant. Callers hold mu.
func (e *Execution) setStatusLocked(to Status) error {
	if err := checkTransition(e.status, to); err != nil {
		return err
	}
	e.status = to
	if to.IsTerminal() {
		e.completedAt = e.now()
	} else {
		e.completedAt = time.Time{}
	}
	close(e.changed)
	e.changed = make(chan struct{})
	return nil
}

func (e *Execution) transition(to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setStatusLocked(to)
}

// watch returns the current status and a channel closed on the next change.
func (e *Execution) watch() (Status, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.changed
}

// begin moves a pending execution to initializing and stamps started_at.
func (e *Execution) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setStatusLocked(StatusInitializing); err != nil {
		return err
	}
	if e.startedAt.IsZero() {
		e.startedAt = e.now()
	}
	return nil
}

// fail records err and moves the execution to failed.
func (e *Execution) fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.setStatusLocked(StatusFailed); terr != nil {
		return terr
	}
	e.recordErrorLocked(err)
	return nil
}

// expire records a workflow timeout.
func (e *Execution) expire(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.setStatusLocked(StatusTimeout); terr != nil {
		return terr
	}
	e.recordErrorLocked(err)
	return nil
}

func (e *Execution) recordErrorLocked(err error) {
	e.lastErr = err
	if err == nil {
		e.errMessage = ""
		e.errKind = ""
		return
	}
	e.errMessage = err.Error()
	e.errKind = KindOf(err)
}

// complete finishes the run; it refuses while a required step is unfinished.
func (e *Execution) complete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.requiredSatisfiedLocked() {
		return fmt.Errorf("%w: required steps incomplete", ErrIllegalTransition)
	}
	if err := e.setStatusLocked(StatusCompleted); err != nil {
		return err
	}
	e.progress = 100
	e.errMessage = ""
	e.errKind = ""
	e.lastErr = nil
	return nil
}

func (e *Execution) requiredSatisfiedLocked() bool {
	for i, step := range e.steps {
		if step.Required && e.states[i].status != StepCompleted {
			return false
		}
	}
	return true
}

// stepStatuses returns a copy of every step status keyed by id.
func (e *Execution) stepStatuses() map[string]StepStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]StepStatus, len(e.steps))
	for i, step := range e.steps {
		out[step.ID] = e.states[i].status
	}
	return out
}

// startLayer marks the given steps running and returns the call for each.
func (e *Execution) startLayer(ids []string) []StepCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers++
	now := e.now()
	calls := make([]StepCall, 0, len(ids))
	for _, id := range ids {
		idx := e.index[id]
		st := &e.states[idx]
		st.status = StepRunning
		st.startedAt = now
		st.completedAt = time.Time{}
		st.err = ""
		st.result = nil
		calls = append(calls, StepCall{
			WorkflowID: e.id,
			Step:       e.steps[idx].clone(),
			Inputs:     maps.Clone(e.inputs),
			Context:    maps.Clone(e.contextData),
			Layer:      e.layers,
		})
	}
	return calls
}

// recordSuccess completes a step and merges its output into the context.
func (e *Execution) recordSuccess(id string, result StepResult, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.index[id]
	st := &e.states[idx]
	st.status = StepCompleted
	st.result = maps.Clone(result.Data)
	st.err = ""
	st.completedAt = e.now()
	st.attempts = attempts
	for resultKey, contextKey := range e.steps[idx].OutputMapping {
		if value, ok := result.Data[resultKey]; ok {
			e.contextData[contextKey] = value
		}
	}
}

// recordFailure fails a step and adds it to the failed set.
func (e *Execution) recordFailure(id string, err error, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.index[id]
	st := &e.states[idx]
	st.status = StepFailed
	st.result = nil
	if err != nil {
		st.err = err.Error()
	}
	st.completedAt = e.now()
	st.attempts = attempts
	e.failed[id] = struct{}{}
}

// discard returns in-flight steps to pending without recording results.
func (e *Execution) discard(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		st := &e.states[e.index[id]]
		if st.status != StepRunning {
			continue
		}
		*st = stepState{status: StepPending}
	}
}

// block marks pending steps that can no longer run.
func (e *Execution) block(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		st := &e.states[e.index[id]]
		if st.status == StepPending {
			st.status = StepBlocked
		}
	}
}

// updateProgress recomputes progress from completed required steps. The value
// is capped at 95 before completion and never decreases.
func (e *Execution) updateProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusCompleted {
		e.progress = 100
		return e.progress
	}
	total, done := 0, 0
	for i, step := range e.steps {
		if !step.Required {
			continue
		}
		total++
		if e.states[i].status == StepCompleted {
			done++
		}
	}
	if total == 0 {
		return e.progress
	}
	next := float64(done) / float64(total) * 100
	if next > 95 {
		next = 95
	}
	if next > e.progress {
		e.progress = next
	}
	return e.progress
}

// unfinished returns ids of steps that have not completed, in workflow order.
func (e *Execution) unfinished() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for i, step := range e.steps {
		if e.states[i].status != StepCompleted {
			ids = append(ids, step.ID)
		}
	}
	return ids
}

// resetForRetryLocked applies whole-workflow retry: only failed steps go back to
// pending, blocked steps are released, completed steps are untouched.
func (e *Execution) resetForRetryLocked() error {
	if err := e.setStatusLocked(StatusRetrying); err != nil {
		return err
	}
	e.retryCount++
	for i := range e.states {
		switch e.states[i].status {
		case StepFailed, StepBlocked:
			e.states[i] = stepState{status: StepPending}
		}
	}
	clear(e.failed)
	e.progress = 0
	return nil
}

// Snapshot is a read-only copy of an execution. Maps are shallow copies.
type Snapshot struct {
	WorkflowID      string
	Type            string
	UserID          string
	Status          Status
	Progress        float64
	RetryCount      int
	MaxRetries      int
	Timeout         time.Duration
	Layers          int
	Steps           []StepSnapshot
	ContextData     map[string]any
	InputParameters map[string]any
	FailedSteps     []string
	StartedAt       time.Time
	CompletedAt     time.Time
	ErrorMessage    string
	ErrorKind       string
}

// StepSnapshot pairs a step definition with its runtime state.
type StepSnapshot struct {
	Step
	Status       StepStatus
	Result       map[string]any
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
	Attempts     int
}

// Duration returns how long the step ran, zero if it has not finished.
func (s StepSnapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Snapshot copies the current execution state.
func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	steps := make([]StepSnapshot, len(e.steps))
	for i, step := range e.steps {
		st := e.states[i]
		steps[i] = StepSnapshot{
			Step:         step.clone(),
			Status:       st.status,
			Result:       maps.Clone(st.result),
			ErrorMessage: st.err,
			StartedAt:    st.startedAt,
			CompletedAt:  st.completedAt,
			Attempts:     st.attempts,
		}
	}
	return Snapshot{
		WorkflowID:      e.id,
		Type:            e.kind,
		UserID:          e.userID,
		Status:          e.status,
		Progress:        e.progress,
		RetryCount:      e.retryCount,
		MaxRetries:      e.maxRetries,
		Timeout:         e.timeout,
		Layers:          e.layers,
		Steps:           steps,
		ContextData:     maps.Clone(e.contextData),
		InputParameters: maps.Clone(e.inputs),
		FailedSteps:     sortedKeys(e.failed),
		StartedAt:       e.startedAt,
		CompletedAt:     e.completedAt,
		ErrorMessage:    e.errMessage,
		ErrorKind:       e.errKind,
	}
}

// Summary is the compact, comparable view of an execution used for status
// listings and run history.
type Summary struct {
	WorkflowID   string
	Type         string
	UserID       string
	Status       Status
	Progress     float64
	TotalSteps   int
	StepCounts   map[StepStatus]int
	FailedSteps  []string
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	ErrorKind    string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Summary derives the summary from the current state.
func (e *Execution) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[StepStatus]int)
	for _, st := range e.states {
		counts[st.status]++
	}
	return Summary{
		WorkflowID:   e.id,
		Type:         e.kind,
		UserID:       e.userID,
		Status:       e.status,
		Progress:     e.progress,
		TotalSteps:   len(e.steps),
		StepCounts:   counts,
		FailedSteps:  sortedKeys(e.failed),
		RetryCount:   e.retryCount,
		MaxRetries:   e.maxRetries,
		ErrorMessage: e.errMessage,
		ErrorKind:    e.errKind,
		StartedAt:    e.startedAt,
		CompletedAt:  e.completedAt,
	}
}

// Duration returns the wall time of the run; zero until it is terminal.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// String renders the summary on one line with a stable field order.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workflow %s type=%s status=%s progress=%.1f steps=%d/%d retries=%d/%d",
		s.WorkflowID, s.Type, s.Status, s.Progress,
		s.StepCounts[StepCompleted], s.TotalSteps, s.RetryCount, s.MaxRetries)
	if len(s.FailedSteps) > 0 {
		fmt.Fprintf(&b, " failed=[%s]", strings.Join(s.FailedSteps, ","))
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, " error=%q", s.ErrorMessage)
	}
	return b.String()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
