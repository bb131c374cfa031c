// Package workflow orchestrates multi-step workflows across the media stack.
//
// An Execution holds the definition and runtime state of one workflow: the
// status machine, per-step results, the shared context map fed by step output
// mappings, progress, and retry accounting. The Dispatcher drives an
// execution layer by layer. Each layer is the set of pending steps whose
// dependencies have completed; its steps run concurrently through a
// ServiceAdapter and the next layer starts only after all of them resolved.
//
// Before the first layer the HealthGate checks every referenced service with
// a HealthRegistry. After each layer the FailurePolicy (FailFast by default)
// decides whether failures end the run. When no step is ready and required
// steps remain, the run is reported stuck. RetryController re-enters failed
// or timed-out executions while their retry budget lasts, keeping completed
// steps. AuditHook observers see snapshots at layer boundaries and cannot
// influence dispatch.
//
// The Manager tracks executions for callers such as the CLI: it bounds
// concurrent workflows, optionally retries automatically, and hands terminal
// summaries to a Recorder.
package workflow
