// Package testutil provides shared test utilities for cc-automator.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SampleSpec - a two-milestone CLAUDE.md
//   - SampleFlake8Output, SampleMypyOutput - checker output with F-codes and errors
//   - SamplePytestPassed, SamplePytestFailed - pytest summaries
//   - SampleTranscript - a stream-json transcript ending in a success result
//   - SampleFailures() - failure records for the strategy layer
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupTestDir(t) - creates a project with CLAUDE.md and .cc_automator/
//   - WriteEvidence(t, store, n, phase, content) - writes an evidence file
//   - FindProjectRoot(t) - finds the module root directory
//   - MustMarshalJSON(t, v) - marshals to JSON or fails test
//   - MustUnmarshalJSON(t, data, v) - unmarshals JSON or fails test
//   - WriteTestFile(t, base, path, content) - writes a file in test dir
//
// # Assertions
//
// The assertions.go file provides custom test assertions:
//
//   - AssertRunCompleted(t, results), AssertRunFailed(t, results)
//   - AssertMilestoneStatus(t, results, n, status)
//   - AssertPhaseStatus(t, results, n, phase, status)
//   - AssertPhaseAttempts(t, results, n, phase, attempts)
//   - AssertEvidenceExists(t, store, n, phase)
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    dir, store := testutil.SetupTestDir(t)
//	    // ... run a pipeline against dir ...
//	    testutil.AssertPhaseStatus(t, results, 1, "lint", "completed")
//	}
package testutil
