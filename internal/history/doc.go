// Package history persists terminal workflow summaries in SQLite.
//
// Store implements workflow.Recorder: the manager hands it one summary per
// finished run and re-recording the same workflow id (after a retry) replaces
// the earlier row. The CLI reads it back with List and Get. Opening the
// database applies the embedded migrations under a file lock so concurrent
// CLI invocations do not race on schema creation.
package history
