// Package adapter executes workflow steps as HTTP calls against the media
// stack.
//
// HTTP resolves each step's service through a registry.ServiceRegistry and
// calls http://{host}:{api_port}{endpoint}. GET and DELETE carry parameters in
// the query string, POST and PUT as a JSON body. Non-2xx answers become
// services.ExecutionError values so the dispatcher can tell transient
// failures from permanent ones.
package adapter
