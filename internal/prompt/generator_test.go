package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
)

func sampleData(t phase.Type) Data {
	return Data{
		ProjectDir: "/proj",
		Milestone: milestone.Milestone{
			Number:          1,
			Name:            "Core calculator",
			Description:     "Add and subtract numbers.",
			SuccessCriteria: []string{"adds two numbers", "prints the result"},
		},
		Phase:        t,
		EvidencePath: "/proj/.cc_automator/milestones/milestone_1/" + string(t) + ".md",
		MarkerPath:   "/proj/.cc_automator/milestones/milestone_1/" + string(t) + ".done",
		MilestoneDir: "/proj/.cc_automator/milestones/milestone_1",
		Commands:     config.DefaultCommands(),
	}
}

func TestPhase_AllTypesRender(t *testing.T) {
	t.Parallel()

	for _, typ := range phase.Ordered() {
		out, err := Phase(sampleData(typ))
		require.NoError(t, err, typ)
		assert.Contains(t, out, "## Evidence requirements", typ)
		assert.Contains(t, out, string(typ)+".md", typ)
		assert.Contains(t, out, string(typ)+".done", typ)
	}
}

func TestPhase_Content(t *testing.T) {
	t.Parallel()

	out, err := Phase(sampleData(phase.Research))
	require.NoError(t, err)
	assert.Contains(t, out, "Milestone 1: Core calculator")
	assert.Contains(t, out, "- adds two numbers")
	assert.Contains(t, out, "  Add and subtract numbers.")

	d := sampleData(phase.Lint)
	d.Context = "Source files: calc.py"
	d.FailureContext = "test phase: 2 failed"
	out, err = Phase(d)
	require.NoError(t, err)
	assert.Contains(t, out, "flake8 --select=F .")
	assert.Contains(t, out, "## Context\n\nSource files: calc.py")
	assert.Contains(t, out, "## Failure context\n\ntest phase: 2 failed")

	out, err = Phase(sampleData(phase.E2E))
	require.NoError(t, err)
	assert.Contains(t, out, "milestone_1/e2e_evidence.log")
	assert.Contains(t, out, "python main.py")
}

func TestPhase_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := Phase(sampleData(phase.Type("deploy")))
	assert.Error(t, err)
}

func TestRetryBuilders(t *testing.T) {
	t.Parallel()

	out := Targeted("BASE", "2 tests failed")
	assert.True(t, strings.HasPrefix(out, "BASE"))
	assert.Contains(t, out, "2 tests failed")

	out = Enhanced("BASE", "still failing", "implement.md: wrote calc.py")
	assert.Contains(t, out, "different approach")
	assert.Contains(t, out, "implement.md: wrote calc.py")
	assert.NotContains(t, Enhanced("BASE", "x", ""), "What earlier attempts left behind")

	out = FinalFix("BASE", "F401 unused import")
	assert.Contains(t, out, "last attempt")

	out = StepBack("BASE", "test phase failed: ImportError")
	assert.Contains(t, out, "ImportError")
}

func TestDependencyAnalysis(t *testing.T) {
	t.Parallel()

	out := DependencyAnalysis(phase.Test, "3 failed", "attempt 1: 3 failed")
	assert.Contains(t, out, "The test phase")
	assert.Contains(t, out, "research, planning, implement, architecture, lint, typecheck")
	assert.Contains(t, out, "ROOT_CAUSE_IN_EARLIER_PHASE: yes|no")
	assert.Contains(t, out, "TARGET_PHASE:")
}

func TestFileFix(t *testing.T) {
	t.Parallel()

	errs := []pycheck.Issue{{File: "a.py", Line: 3, Code: "F401", Message: "'os' imported but unused"}}
	out := FileFix("flake8", "a.py", "import os\n", errs, 1)
	assert.Contains(t, out, "- line 3: F401 'os' imported but unused")
	assert.Contains(t, out, "import os")
	assert.NotContains(t, out, "try something different")

	out = FileFix("mypy", "a.py", "x: int = 'a'\n", []pycheck.Issue{{File: "a.py", Line: 1, Message: "bad"}}, 3)
	assert.Contains(t, out, "- line 1: bad")
	assert.Contains(t, out, "attempt 3")
	assert.Contains(t, out, "try something different")
}
