// Package logging assembles structured slog loggers and formatting helpers used
// across mediaflow.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so dispatcher and adapter code can tag log
// lines with workflow IDs, step IDs, target services, and correlation IDs. A
// no-op logger is provided for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape and routing.
package logging
