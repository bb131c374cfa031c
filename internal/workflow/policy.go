package workflow

// StepFailure pairs a failed step with its error.
type StepFailure struct {
	Step Step
	Err  error
}

// FailurePolicy decides, after a layer resolved, whether its failures end the
// workflow. A non-nil return fails the execution with that error; nil lets
// dispatch continue, in which case dependents of failed steps end up
// reported by stuck detection.
type FailurePolicy func(failures []StepFailure) error

// FailFast fails the workflow on the first failed step of a layer, even when
// unrelated branches could still succeed. It is the default policy.
func FailFast(failures []StepFailure) error {
	if len(failures) == 0 {
		return nil
	}
	first := failures[0]
	return &StepError{StepID: first.Step.ID, Service: first.Step.Service, Err: first.Err}
}
