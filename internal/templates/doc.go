// Package templates holds the catalog of media workflows and turns a catalog
// entry plus user input into a workflow.Execution.
//
// The bundled catalog (default_workflows.toml) covers movie acquisition,
// series acquisition and recommendation refresh. A catalog file named by
// paths.workflows_file replaces it entirely. Catalogs are checked with struct
// tags (go-playground/validator) and the workflow graph rules before use.
package templates
