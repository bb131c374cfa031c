// Package registry tells the orchestrator where each media-stack service
// lives and how healthy it is.
//
// Static is the config-backed service registry used by the HTTP adapter.
// Prober implements workflow.HealthRegistry by fetching each service's health
// endpoint on demand, so the health gate always sees a fresh answer.
package registry
