// Package v4 is the strategy layer that sits above the phase pipeline.
//
// For each milestone a MetaOrchestrator analyses the project spec and the
// failure history, picks one of three strategies and runs the milestone with
// it:
//
//   - v3_pipeline: the plain phase sequence.
//   - iterative_refinement: research through architecture are drafted in
//     rounds, each round seeded with the previous round's failure, before the
//     remaining phases run.
//   - parallel_exploration: several variants are implemented concurrently in
//     copies of the project; the best scoring copy is promoted back and then
//     validated and committed.
//
// With learning enabled, outcomes are kept in .cc_automator/v4_learning.yaml
// and strategies that keep failing for a project type are demoted.
package v4
