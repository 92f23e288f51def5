package phasectx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/state"
)

func setup(t *testing.T) (*Manager, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	store := state.NewStore(dir)
	for _, f := range []string{"main.py", "calc/ops.py", "tests/unit/test_ops.py", ".venv/lib/x.py"} {
		path := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("pass\n"), 0o644))
	}
	require.NoError(t, store.PrepareMilestone(1, "planning"))
	return NewManager(store), store
}

var ms = milestone.Milestone{Number: 1, Name: "Core", SuccessCriteria: []string{"adds numbers"}}

func TestBuild_Implement(t *testing.T) {
	t.Parallel()

	m, store := setup(t)
	require.NoError(t, os.WriteFile(store.EvidencePath(1, "planning"), []byte("1. write calc/ops.py"), 0o644))

	ctx := m.Build(ms, phase.Implement)
	assert.Contains(t, ctx, "Previous phase (planning) evidence summary:\n1. write calc/ops.py")
	assert.Contains(t, ctx, "Implementation plan:")
}

func TestBuild_LintListsSourcesOnly(t *testing.T) {
	t.Parallel()

	m, _ := setup(t)
	ctx := m.Build(ms, phase.Lint)
	assert.Contains(t, ctx, "- calc/ops.py")
	assert.Contains(t, ctx, "- main.py")
	assert.NotContains(t, ctx, "test_ops.py")
	assert.NotContains(t, ctx, ".venv")
}

func TestBuild_TestListsTests(t *testing.T) {
	t.Parallel()

	m, _ := setup(t)
	ctx := m.Build(ms, phase.Test)
	assert.Contains(t, ctx, "Test files:\n- tests/unit/test_ops.py")
}

func TestBuild_E2E(t *testing.T) {
	t.Parallel()

	m, _ := setup(t)
	ctx := m.Build(ms, phase.E2E)
	assert.Contains(t, ctx, "Main entry point: main.py")
	assert.Contains(t, ctx, "- adds numbers")
}

func TestBuild_ResearchHasNoPrevious(t *testing.T) {
	t.Parallel()

	m, _ := setup(t)
	assert.Empty(t, m.Build(ms, phase.Research))
}

func TestBuild_Capped(t *testing.T) {
	t.Parallel()

	m, store := setup(t)
	require.NoError(t, os.WriteFile(store.EvidencePath(1, "planning"), []byte(strings.Repeat("p", 5000)), 0o644))

	ctx := m.WithMaxSize(200).Build(ms, phase.Implement)
	assert.LessOrEqual(t, len(ctx), 200+len("\n[truncated]"))
	assert.True(t, strings.HasSuffix(ctx, "[truncated]"))
}
