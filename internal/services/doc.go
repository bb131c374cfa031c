// Package services defines shared utilities consumed by the workflow core and
// the service integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, step IDs, target services, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper and ExecutionError type so
//     failures from wrapped services classify consistently.
//
// Use these helpers when wiring new integrations so operational behaviour
// (error handling, observability) stays uniform across workflows.
package services
