//go:build integration && real_claude

package integration

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/testutil"
)

// TestRealClaude_ResearchPhase runs the research phase of milestone 1 with
// the real claude CLI. It costs money and takes minutes.
func TestRealClaude_ResearchPhase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real agent test in short mode")
	}
	if _, err := exec.LookPath(config.DefaultAgentBinary); err != nil {
		t.Skipf("%s not on PATH", config.DefaultAgentBinary)
	}

	dir, store := testutil.SetupTestDir(t)
	cfg := config.DefaultConfig()
	runner := agent.NewRunner(agent.NewLocalExecutor(), cfg.Agent, cfg.Limits.CompletionGracePeriod)

	ctx, cancel := testutil.AgentExecutionContext(t)
	defer cancel()

	require.NoError(t, store.PrepareMilestone(1, string(phase.Research)))
	res := runner.Run(ctx, agent.Request{
		Prompt:         "Describe this project in two sentences and write them to " + store.EvidencePath(1, "research") + ", then create " + store.MarkerPath(1, "research") + " containing DONE.",
		Dir:            dir,
		MaxTurns:       5,
		TranscriptPath: store.PhaseOutputPath(1, "research", 1),
		MarkerPath:     store.MarkerPath(1, "research"),
	})
	require.True(t, res.OK(), "agent failed: %v (%s)", res.Err, res.Class)
	testutil.AssertEvidenceExists(t, store, 1, "research")
}
