// Package server provides the optional status server for a running pipeline.
//
// The server lets an operator watch a long autonomous run from another
// terminal or a dashboard without touching the .cc_automator tree directly.
//
// # Endpoints
//
//   - GET /healthz - Liveness probe, returns "ok"
//   - GET /progress - Current progress.json contents as JSON
//   - GET /metrics - Prometheus exposition of the run's registry
package server
