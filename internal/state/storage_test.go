package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Paths(t *testing.T) {
	t.Parallel()

	store := NewStore("/proj")
	assert.Equal(t, "/proj/.cc_automator", store.Root())
	assert.Equal(t, "/proj/.cc_automator/milestones/milestone_2", store.MilestoneDir(2))
	assert.Equal(t, "/proj/.cc_automator/milestones/milestone_2/lint.md", store.EvidencePath(2, "lint"))
	assert.Equal(t, "/proj/.cc_automator/milestones/milestone_2/lint.done", store.MarkerPath(2, "lint"))
	assert.Equal(t, "/proj/.cc_automator/phase_outputs/milestone_1_test_attempt_3.jsonl", store.PhaseOutputPath(1, "test", 3))
	assert.Equal(t, "/proj/.cc_automator/metrics.prom", store.MetricsPath())
}

func TestStore_EnsureLayout(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)
	require.NoError(t, store.EnsureLayout())

	for _, dir := range []string{"milestones", "checkpoints", "phase_outputs", "failure_logs", "stability_logs"} {
		info, err := os.Stat(filepath.Join(tmpDir, DirName, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestStore_Progress(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	got, err := store.LoadProgress()
	require.NoError(t, err)
	assert.Nil(t, got, "no progress file yet")

	p := &Progress{RunID: "run-1", Status: "running", StartedAt: time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)}
	m := p.Milestone(1, "Core")
	m.Phases["research"] = "completed"
	assert.Same(t, m, p.Milestone(1, "ignored"))

	require.NoError(t, store.SaveProgress(p))
	assert.False(t, p.UpdatedAt.IsZero())

	got, err = store.LoadProgress()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Milestones, 1)
	assert.Equal(t, "Core", got.Milestones[0].Name)
	assert.Equal(t, "completed", got.Milestones[0].Phases["research"])
}

func TestStore_LoadProgress_Corrupt(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)
	require.NoError(t, store.EnsureLayout())
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DirName, "progress.json"), []byte("{nope"), 0o644))

	_, err := store.LoadProgress()
	assert.Error(t, err)
}

func TestStore_Sessions(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.AppendSession(Session{SessionID: "s", Attempt: i}))
		}(i)
	}
	wg.Wait()

	sessions, err := store.LoadSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 5)
}

func TestStore_Checkpoints(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	cp, err := store.LoadCheckpoint(1, "lint")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, store.SaveCheckpoint(Checkpoint{Milestone: 1, Phase: "lint", Status: "completed", CostUSD: 0.5}))

	cp, err = store.LoadCheckpoint(1, "lint")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "completed", cp.Status)
	assert.False(t, cp.Timestamp.IsZero())

	other, err := store.LoadCheckpoint(2, "lint")
	require.NoError(t, err)
	assert.Nil(t, other, "checkpoints are per milestone")

	require.NoError(t, store.ClearCheckpoint(1, "lint"))
	require.NoError(t, store.ClearCheckpoint(1, "lint"), "clearing twice is fine")
	cp, err = store.LoadCheckpoint(1, "lint")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_FailuresJSONL(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)

	failures, err := store.LoadFailures()
	require.NoError(t, err)
	assert.Empty(t, failures)

	require.NoError(t, store.AppendFailure(Failure{Milestone: 1, Phase: "test", Message: "2 failed"}))
	require.NoError(t, store.AppendFailure(Failure{Milestone: 1, Phase: "test", Message: "1 failed", Attempt: 2}))

	// A torn trailing line is ignored.
	f, err := os.OpenFile(filepath.Join(tmpDir, DirName, "failure_logs", "failures.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"milestone":1,"pha`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	failures, err = store.LoadFailures()
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "1 failed", failures[1].Message)
	assert.False(t, failures[0].Timestamp.IsZero())
}

func TestStore_ResourceSamples(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.AppendResourceSample(ResourceSample{Label: "variant-1", CPUPercent: 12.5}))

	samples, err := store.LoadResourceSamples()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 12.5, samples[0].CPUPercent)
}

func TestStore_ResultsAndReport(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)

	r := &Results{
		RunID:  "run-1",
		Status: "failed",
		Error:  "phase lint failed",
		Milestones: []MilestoneResult{{
			Number: 1,
			Phases: []PhaseResult{{Phase: "lint", Status: "failed", Attempts: 3}},
		}},
	}
	require.NoError(t, store.SaveResults(r))
	require.NoError(t, store.WriteReport("# Report\n"))

	got, err := store.LoadResults()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Milestones[0].Phases[0].Attempts)

	data, err := os.ReadFile(filepath.Join(tmpDir, DirName, "report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", string(data))
}

func TestStore_EvidenceAndMarker(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	text, err := store.ReadEvidence(1, "research")
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, store.PrepareMilestone(1, "research"))
	require.NoError(t, os.WriteFile(store.MarkerPath(1, "research"), nil, 0o644))
	require.NoError(t, os.WriteFile(store.EvidencePath(1, "research"), []byte("found things"), 0o644))

	text, err = store.ReadEvidence(1, "research")
	require.NoError(t, err)
	assert.Equal(t, "found things", text)

	require.NoError(t, store.PrepareMilestone(1, "research"))
	_, err = os.Stat(store.MarkerPath(1, "research"))
	assert.True(t, os.IsNotExist(err), "stale marker removed")
}
