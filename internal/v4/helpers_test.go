package v4

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/orchestrator"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/state"
)

const simpleSpec = `# Adder

## Milestones

### Milestone 1: Sum
- main.py prints the sum of two numbers
- Exits with code 0
`

// complexSpec scores high on complexity and low on clarity.
const complexSpec = `# Market dashboard

A Python FastAPI service using pandas, Redis, Postgres and Docker that pulls
prices over HTTP.

## Milestones

### Milestone 1: Dashboard
- Elegant layout
- Clean code
- Pleasant colours
- Helpful docs
- Sensible defaults
- Friendly tone
- Tidy modules
- Good naming
- Smooth flow
- Nice help text
`

// fakeAgent writes evidence for every phase and a source file during
// implement. Analysis requests get a "no earlier root cause" answer.
type fakeAgent struct {
	mu      sync.Mutex
	prompts map[string][]string
	fail    func(name, dir string) bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{prompts: make(map[string][]string)}
}

func (f *fakeAgent) Run(_ context.Context, req agent.Request) agent.Result {
	if req.MarkerPath == "" {
		return agent.Result{Status: phase.StatusCompleted, Text: "ROOT_CAUSE_IN_EARLIER_PHASE: no\n"}
	}
	name := strings.TrimSuffix(filepath.Base(req.MarkerPath), ".done")
	f.mu.Lock()
	f.prompts[name] = append(f.prompts[name], req.Prompt)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil && fail(name, req.Dir) {
		return agent.Result{Status: phase.StatusFailed, Class: agent.ClassExecution, Text: "could not finish"}
	}

	dir := filepath.Dir(req.MarkerPath)
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(filepath.Join(dir, name+".md"), []byte(strings.Repeat(name+" evidence ", 20)), 0o644)
	switch name {
	case "implement":
		_ = os.WriteFile(filepath.Join(req.Dir, "main.py"), []byte("def main():\n    return 0\n"), 0o644)
	case "e2e":
		_ = os.WriteFile(filepath.Join(dir, "e2e_run.log"), []byte("ran main.py\n"), 0o644)
	}
	_ = os.WriteFile(req.MarkerPath, []byte("DONE"), 0o644)
	return agent.Result{Status: phase.StatusCompleted, SessionID: "sess-" + name, CostUSD: 0.1}
}

func (f *fakeAgent) calls(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[name]...)
}

func passingTools() *pycheck.MockRunner {
	return &pycheck.MockRunner{RunFunc: func(_ context.Context, _ string, _ string, args ...string) (pycheck.Output, error) {
		switch args[0] {
		case "mypy":
			return pycheck.Output{Text: "Success: no issues found in 1 source file\n"}, nil
		case "pytest":
			return pycheck.Output{Text: "===== 3 passed in 0.05s =====\n"}, nil
		case "git":
			return pycheck.Output{Text: "3f2a9c1\n"}, nil
		default:
			return pycheck.Output{}, nil
		}
	}}
}

type fixture struct {
	dir      string
	cfg      *config.Config
	store    *state.Store
	agent    *fakeAgent
	pipeline *orchestrator.Pipeline
	base     orchestrator.Options
}

func newFixture(t *testing.T, spec string, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, orchestrator.SpecFile), []byte(spec), 0o644))

	cfg := config.DefaultConfig()
	cfg.V4.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	store := state.NewStore(dir)
	require.NoError(t, store.EnsureLayout())
	fa := newFakeAgent()
	base := orchestrator.Options{
		Config:   &cfg,
		Run:      config.Options{ProjectDir: dir, V4: true},
		Store:    store,
		Agent:    fa,
		Commands: passingTools(),
	}
	p, err := orchestrator.New(base)
	require.NoError(t, err)
	return &fixture{dir: dir, cfg: &cfg, store: store, agent: fa, pipeline: p, base: base}
}
