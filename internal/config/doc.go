// Package config loads, normalizes, and validates mediaflow configuration data.
//
// It supplies repository defaults (including the stock ports of the media
// stack), expands user paths, reads TOML files, and honours environment
// fallbacks such as RADARR_API_KEY and MEDIAFLOW_LOG_LEVEL. The Config type
// centralizes every knob the orchestrator and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical service names, and clear validation errors.
package config
