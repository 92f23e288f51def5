package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/state"
)

// AssertRunCompleted asserts that every milestone of a run completed.
func AssertRunCompleted(t *testing.T, results *state.Results) {
	t.Helper()
	require.NotNil(t, results, "results are nil")
	assert.Equal(t, config.RunStatusCompleted, results.Status, "run status mismatch: %s", results.Error)
	for _, mr := range results.Milestones {
		assert.Equal(t, config.RunStatusCompleted, mr.Status, "milestone %d status mismatch", mr.Number)
	}
}

// AssertRunFailed asserts that a run failed and recorded its error.
func AssertRunFailed(t *testing.T, results *state.Results) {
	t.Helper()
	require.NotNil(t, results, "results are nil")
	assert.Equal(t, config.RunStatusFailed, results.Status, "run status mismatch")
	assert.NotEmpty(t, results.Error, "failed run should record an error")
}

// Milestone returns the result for milestone n, failing the test if absent.
func Milestone(t *testing.T, results *state.Results, n int) state.MilestoneResult {
	t.Helper()
	require.NotNil(t, results, "results are nil")
	for _, mr := range results.Milestones {
		if mr.Number == n {
			return mr
		}
	}
	require.Failf(t, "milestone not found", "no result for milestone %d", n)
	return state.MilestoneResult{}
}

// Phase returns the result of a phase of milestone n, failing the test if
// absent.
func Phase(t *testing.T, results *state.Results, n int, phase string) state.PhaseResult {
	t.Helper()
	for _, pr := range Milestone(t, results, n).Phases {
		if pr.Phase == phase {
			return pr
		}
	}
	require.Failf(t, "phase not found", "no result for phase %s of milestone %d", phase, n)
	return state.PhaseResult{}
}

// AssertMilestoneStatus asserts the status of milestone n.
func AssertMilestoneStatus(t *testing.T, results *state.Results, n int, status string) {
	t.Helper()
	assert.Equal(t, status, Milestone(t, results, n).Status, "milestone %d status mismatch", n)
}

// AssertPhaseStatus asserts the status of a phase of milestone n.
func AssertPhaseStatus(t *testing.T, results *state.Results, n int, phase, status string) {
	t.Helper()
	assert.Equal(t, status, Phase(t, results, n, phase).Status, "milestone %d phase %s status mismatch", n, phase)
}

// AssertPhaseAttempts asserts how many attempts a phase took.
func AssertPhaseAttempts(t *testing.T, results *state.Results, n int, phase string, attempts int) {
	t.Helper()
	assert.Equal(t, attempts, Phase(t, results, n, phase).Attempts, "milestone %d phase %s attempts mismatch", n, phase)
}

// AssertEvidenceExists asserts that the evidence file of a phase exists and
// is not empty.
func AssertEvidenceExists(t *testing.T, store *state.Store, n int, phase string) {
	t.Helper()
	info, err := os.Stat(store.EvidencePath(n, phase))
	require.NoError(t, err, "evidence for milestone %d phase %s missing", n, phase)
	assert.NotZero(t, info.Size(), "evidence for milestone %d phase %s is empty", n, phase)
}
