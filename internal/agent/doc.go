// Package agent is the boundary to the external coding agent CLI.
//
// The agent runs with --output-format stream-json and emits newline-delimited
// JSON events. A Runner starts it through an Executor, records the raw
// transcript, watches for the phase's completion marker and reduces the run
// to a typed Result. Downstream code branches on Result.Status and
// Result.Class and never inspects error prose.
package agent
