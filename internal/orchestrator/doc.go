// Package orchestrator sequences milestones and phases for a project.
//
// A Pipeline loads the project's CLAUDE.md, decomposes it into milestones and
// runs each milestone's phases in order through a PhaseRunner. A phase that
// fails validation goes through the recovery machine; when recovery traces
// the failure to an earlier phase the pipeline steps back, re-running that
// phase and every phase up to the failed one with the failure context
// injected. The first unrecoverable failure aborts the run. results.json and
// report.md are written whatever the outcome.
package orchestrator
