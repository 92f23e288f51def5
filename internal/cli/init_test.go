package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/milestone"
)

func TestInit_CreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calc")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--project", dir})
	require.NoError(t, root.Execute())

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMaxStepBacks, cfg.Limits.MaxStepBacks)

	for _, sub := range []string{"milestones", "checkpoints", "phase_outputs"} {
		info, err := os.Stat(filepath.Join(dir, config.DirName, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}

	ms, err := milestone.LoadFile(filepath.Join(dir, "CLAUDE.md"))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "Working core", ms[0].Name)

	assert.Contains(t, out.String(), "Created "+config.Path(dir))
}

func TestInit_KeepsExistingFilesUnlessForced(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "CLAUDE.md")
	require.NoError(t, os.WriteFile(spec, []byte("# Mine\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.DirName), 0o755))
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("agent:\n  binary: my-claude\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, initProject(&out, dir, false))
	assert.Contains(t, out.String(), "Kept existing")
	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "my-claude", cfg.Agent.Binary)

	require.NoError(t, initProject(&out, dir, true))
	cfg, err = config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAgentBinary, cfg.Agent.Binary)

	data, err := os.ReadFile(spec)
	require.NoError(t, err)
	assert.Equal(t, "# Mine\n", string(data), "CLAUDE.md is never overwritten")
}
