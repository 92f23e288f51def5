package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/state"
)

// SetupTestDir creates a temporary project with SampleSpec as CLAUDE.md and
// the .cc_automator directory layout, including a default config.yaml.
// Returns the project directory and a Store rooted at it.
func SetupTestDir(t *testing.T) (string, *state.Store) {
	t.Helper()
	return SetupTestDirWithSpec(t, SampleSpec)
}

// SetupTestDirWithSpec is SetupTestDir with a custom CLAUDE.md.
func SetupTestDirWithSpec(t *testing.T, spec string) (string, *state.Store) {
	t.Helper()

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "CLAUDE.md"), []byte(spec), 0644))

	store := state.NewStore(tmpDir)
	require.NoError(t, store.EnsureLayout())
	_, err := config.WriteDefault(tmpDir, false)
	require.NoError(t, err)
	return tmpDir, store
}

// WriteEvidence writes an evidence file for a phase of milestone n.
func WriteEvidence(t *testing.T, store *state.Store, n int, phase, content string) string {
	t.Helper()
	path := store.EvidencePath(n, phase)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// FindProjectRoot walks up from the current directory to find go.mod.
func FindProjectRoot(t *testing.T) string {
	t.Helper()
	return findProjectRootNoTest()
}

// findProjectRootNoTest is the non-test version of FindProjectRoot.
func findProjectRootNoTest() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// MustMarshalJSON marshals a value to JSON, failing the test on error.
// Uses indented format for readability.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
	require.NoError(t, os.WriteFile(fullPath, content, 0644))
}
