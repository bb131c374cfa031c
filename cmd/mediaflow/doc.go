// Package main hosts the mediaflow CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, builds the structured
// logger, and wires the workflow manager to the HTTP service adapter, the
// health prober, the audit lenses and the run history store. Subcommands
// cover running catalog workflows, listing templates and services, reading
// history, and scaffolding configuration.
//
// Keep this package lean: behavior belongs in internal packages and is only
// surfaced here through commands and flags.
package main
