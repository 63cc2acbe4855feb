// Package services wires the configured pipeline stages together.
//
// Build turns a *config.Config into the external service clients, the stage
// implementations, the result sinks and the pipeline Runner that drives
// them. The returned Registry exposes each piece through accessor methods so
// the CLI, the daemon and the Temporal worker share one construction path.
// NewRegistry assembles a Registry from already-built parts, mostly in tests.
package services
