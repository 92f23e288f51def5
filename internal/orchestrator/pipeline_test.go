package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/metrics"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/recovery"
	"github.com/thruflo/cc-automator/internal/state"
)

const testSpec = `# Calculator

## Milestones

### Milestone 1: Core arithmetic
Add, subtract, multiply and divide.
- main.py runs an interactive calculator
- Division by zero prints an error
`

// fakeAgent writes evidence for the phase it is asked to run. Analysis
// requests (no marker) get the configured analysis reply.
type fakeAgent struct {
	mu       sync.Mutex
	prompts  map[string][]string
	analysis string
	// onPhase runs before evidence is written; returning false fails the run.
	onPhase func(name, prompt string) bool
	// failClass sets the error class of a failed call; the default is
	// ClassExecution. call counts from 1 per phase.
	failClass func(name string, call int) agent.ErrorClass
	// noE2ELog makes the e2e phase finish without writing an execution log.
	noE2ELog bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{prompts: make(map[string][]string)}
}

func (f *fakeAgent) Run(_ context.Context, req agent.Request) agent.Result {
	if req.MarkerPath == "" {
		f.record("analysis", req.Prompt)
		return agent.Result{Status: phase.StatusCompleted, Text: f.analysis, CostUSD: 0.01}
	}
	name := strings.TrimSuffix(filepath.Base(req.MarkerPath), ".done")
	f.record(name, req.Prompt)
	if f.onPhase != nil && !f.onPhase(name, req.Prompt) {
		class := agent.ClassExecution
		if f.failClass != nil {
			class = f.failClass(name, len(f.calls(name)))
		}
		return agent.Result{Status: phase.StatusFailed, Class: class, Err: errors.New("boom")}
	}

	dir := filepath.Dir(req.MarkerPath)
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(filepath.Join(dir, name+".md"), []byte(strings.Repeat(name+" evidence ", 20)), 0o644)
	if name == "e2e" && !f.noE2ELog {
		_ = os.WriteFile(filepath.Join(dir, "e2e_run.log"), []byte("ran main.py\n"), 0o644)
	}
	_ = os.WriteFile(req.MarkerPath, []byte("DONE"), 0o644)
	return agent.Result{Status: phase.StatusCompleted, SessionID: "sess-" + name, CostUSD: 0.1}
}

func (f *fakeAgent) record(name, prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[name] = append(f.prompts[name], prompt)
}

func (f *fakeAgent) calls(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[name]...)
}

// tools returns a command runner where every check passes unless
// overridden.
type tools struct {
	mu        sync.Mutex
	overrides map[string]func() pycheck.Output
	seen      []string
}

func (t *tools) runner() *pycheck.MockRunner {
	return &pycheck.MockRunner{RunFunc: func(_ context.Context, _ string, _ string, args ...string) (pycheck.Output, error) {
		t.mu.Lock()
		t.seen = append(t.seen, strings.Join(args, " "))
		fn := t.overrides[args[0]]
		t.mu.Unlock()
		if fn != nil {
			return fn(), nil
		}
		switch args[0] {
		case "mypy":
			return pycheck.Output{Text: "Success: no issues found in 3 source files\n"}, nil
		case "pytest":
			return pycheck.Output{Text: "===== 4 passed in 0.12s =====\n"}, nil
		case "git":
			return pycheck.Output{Text: "3f2a9c1\n"}, nil
		default:
			return pycheck.Output{}, nil
		}
	}}
}

func newTestPipeline(t *testing.T, fa *fakeAgent, tl *tools, mutate func(*config.Config, *config.Options)) (*Pipeline, *state.Store, *metrics.Metrics) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SpecFile), []byte(testSpec), 0o644))

	cfg := config.DefaultConfig()
	opts := config.Options{ProjectDir: dir}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	store := state.NewStore(dir)
	m := metrics.New()
	p, err := New(Options{
		Config:   &cfg,
		Run:      opts,
		Store:    store,
		Agent:    fa,
		Commands: tl.runner(),
		Metrics:  m,
	})
	require.NoError(t, err)
	return p, store, m
}

func TestNew_RequiresDependencies(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Config: &cfg})
	assert.Error(t, err)
	_, err = New(Options{Config: &cfg, Store: state.NewStore(t.TempDir())})
	assert.Error(t, err)
}

func TestPipeline_HappyPath(t *testing.T) {
	fa := newFakeAgent()
	p, store, m := newTestPipeline(t, fa, &tools{}, nil)

	results, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, config.RunStatusCompleted, results.Status)
	require.Len(t, results.Milestones, 1)
	mr := results.Milestones[0]
	assert.Equal(t, config.RunStatusCompleted, mr.Status)
	require.Len(t, mr.Phases, len(phase.Ordered()))
	for i, ph := range mr.Phases {
		assert.Equal(t, string(phase.Ordered()[i]), ph.Phase)
		assert.Equal(t, "completed", ph.Status, ph.Phase)
	}

	saved, err := store.LoadResults()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, results.RunID, saved.RunID)

	report, err := os.ReadFile(filepath.Join(store.Root(), "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "## Milestone 1: Core arithmetic")

	_, err = os.Stat(store.MetricsPath())
	assert.NoError(t, err)

	prog, err := store.LoadProgress()
	require.NoError(t, err)
	assert.Equal(t, config.RunStatusCompleted, prog.Status)
	assert.Equal(t, "completed", prog.Milestones[0].Phases["commit"])

	cp, err := store.LoadCheckpoint(1, "validate")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "sess-validate", cp.SessionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseRuns.WithLabelValues("commit", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StepBacks))
}

func TestPipeline_StepBackRerunsIntermediatePhases(t *testing.T) {
	fa := newFakeAgent()
	fa.analysis = "The parser module is missing.\nROOT_CAUSE_IN_EARLIER_PHASE: yes\nTARGET_PHASE: implement\n"

	var mu sync.Mutex
	fixed := false
	fa.onPhase = func(name, prompt string) bool {
		if name == "implement" && strings.Contains(prompt, "Re-running after a later phase failed") {
			mu.Lock()
			fixed = true
			mu.Unlock()
		}
		return true
	}
	tl := &tools{overrides: map[string]func() pycheck.Output{
		"python": func() pycheck.Output {
			mu.Lock()
			defer mu.Unlock()
			if fixed {
				return pycheck.Output{}
			}
			return pycheck.Output{Text: "ModuleNotFoundError: No module named 'parser'", ExitCode: 1}
		},
	}}
	p, _, m := newTestPipeline(t, fa, tl, nil)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	mr := results.Milestones[0]
	assert.Equal(t, config.RunStatusCompleted, mr.Status)
	assert.Equal(t, 1, mr.StepBacks)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepBacks))

	// implement: initial run plus the step-back re-run.
	implement := fa.calls("implement")
	require.Len(t, implement, 2)
	assert.Contains(t, implement[1], "ModuleNotFoundError")

	// Phases between the target and the failed phase carry the context.
	lint := fa.calls("lint")
	require.Len(t, lint, 2)
	assert.NotContains(t, lint[0], "## Failure context")
	assert.Contains(t, lint[1], "## Failure context")

	// Targeted, enhanced, then the re-run after the step-back.
	assert.Len(t, fa.calls("e2e"), 4)
	assert.Len(t, fa.calls("analysis"), 1)
	assert.Len(t, fa.calls("validate"), 1)
}

func TestPipeline_UnrecoverableFailureAborts(t *testing.T) {
	fa := newFakeAgent()
	fa.analysis = "ROOT_CAUSE_IN_EARLIER_PHASE: no\nTARGET_PHASE: none\n"
	tl := &tools{overrides: map[string]func() pycheck.Output{
		"pytest": func() pycheck.Output {
			return pycheck.Output{Text: "FAILED tests/unit/test_calc.py::test_div - ZeroDivisionError\n=== 1 failed, 3 passed in 0.2s ===\n", ExitCode: 1}
		},
	}}
	p, store, m := newTestPipeline(t, fa, tl, nil)

	results, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMilestoneFailed)
	assert.Equal(t, config.RunStatusFailed, results.Status)
	assert.NotEmpty(t, results.Error)

	// initial, targeted, enhanced, final
	assert.Len(t, fa.calls("test"), 4)
	assert.Empty(t, fa.calls("integration"), "run must stop at the first unrecoverable phase")

	for _, level := range []string{"targeted", "enhanced", "dependency", "final"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("test", level)), level)
	}

	saved, err := store.LoadResults()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, config.RunStatusFailed, saved.Status)

	failures, err := store.LoadFailures()
	require.NoError(t, err)
	assert.NotEmpty(t, failures)
	assert.Equal(t, "test", failures[0].Phase)
}

func TestPipeline_StepBackBudgetExhausted(t *testing.T) {
	fa := newFakeAgent()
	fa.analysis = "ROOT_CAUSE_IN_EARLIER_PHASE: yes\nTARGET_PHASE: implement\n"
	tl := &tools{overrides: map[string]func() pycheck.Output{
		"python": func() pycheck.Output { return pycheck.Output{ExitCode: 2} },
	}}
	p, _, m := newTestPipeline(t, fa, tl, func(c *config.Config, _ *config.Options) {
		c.Limits.MaxStepBacks = 1
	})

	results, err := p.Run(context.Background())
	require.Error(t, err)
	mr := results.Milestones[0]
	assert.Equal(t, config.RunStatusFailed, mr.Status)
	assert.Equal(t, 1, mr.StepBacks, "step-backs never exceed the budget")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepBacks))
	assert.Len(t, fa.calls("implement"), 2)
}

func TestPipeline_InfiniteModeStopsRepeatingStepBacks(t *testing.T) {
	fa := newFakeAgent()
	fa.analysis = "ROOT_CAUSE_IN_EARLIER_PHASE: yes\nTARGET_PHASE: implement\n"
	tl := &tools{overrides: map[string]func() pycheck.Output{
		"python": func() pycheck.Output { return pycheck.Output{ExitCode: 2} },
	}}
	p, _, m := newTestPipeline(t, fa, tl, func(c *config.Config, o *config.Options) {
		o.Infinite = true
		c.Limits.StagnationLimit = 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, recovery.ErrStagnated)
	require.NoError(t, ctx.Err(), "run must stop on its own")

	mr := results.Milestones[0]
	assert.Equal(t, config.RunStatusFailed, mr.Status)
	assert.Equal(t, 3, mr.StepBacks)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StepBacks))
	assert.Len(t, fa.calls("implement"), 4)
}

func TestPipeline_StaleExecutionLogDoesNotPassE2E(t *testing.T) {
	fa := newFakeAgent()
	fa.noE2ELog = true
	p, store, _ := newTestPipeline(t, fa, &tools{}, nil)

	stale := filepath.Join(store.MilestoneDir(1), "e2e_run.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("ran main.py yesterday\n"), 0o644))
	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	results, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, config.RunStatusFailed, results.Status)
	assert.Len(t, fa.calls("e2e"), 4)
	assert.Empty(t, fa.calls("validate"))

	failures, err := store.LoadFailures()
	require.NoError(t, err)
	require.NotEmpty(t, failures)
	assert.Equal(t, "e2e", failures[0].Phase)
	assert.Contains(t, failures[0].Message, "written during this attempt")
}

func TestPipeline_TimeoutStatusFollowsLastAttempt(t *testing.T) {
	tests := []struct {
		name string
		// class returns the error class of the n-th failed test attempt.
		class func(n int) agent.ErrorClass
		want  string
	}{
		{
			name:  "every attempt timed out",
			class: func(int) agent.ErrorClass { return agent.ClassTimeout },
			want:  string(phase.StatusTimeout),
		},
		{
			name: "only the first attempt timed out",
			class: func(n int) agent.ErrorClass {
				if n == 1 {
					return agent.ClassTimeout
				}
				return agent.ClassExecution
			},
			want: string(phase.StatusFailed),
		},
		{
			name: "last attempt timed out",
			class: func(n int) agent.ErrorClass {
				if n == 4 {
					return agent.ClassTimeout
				}
				return agent.ClassExecution
			},
			want: string(phase.StatusTimeout),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgent()
			fa.onPhase = func(name, _ string) bool { return name != "test" }
			fa.failClass = func(_ string, call int) agent.ErrorClass { return tt.class(call) }
			p, _, _ := newTestPipeline(t, fa, &tools{}, nil)

			results, err := p.Run(context.Background())
			require.Error(t, err)
			require.Len(t, fa.calls("test"), 4)

			var got string
			for _, pr := range results.Milestones[0].Phases {
				if pr.Phase == "test" {
					got = pr.Status
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipeline_ResumeSkipsCheckpointedPhases(t *testing.T) {
	fa := newFakeAgent()
	p, store, _ := newTestPipeline(t, fa, &tools{}, func(_ *config.Config, o *config.Options) {
		o.Resume = true
	})
	for _, name := range []string{"research", "planning"} {
		require.NoError(t, store.SaveCheckpoint(state.Checkpoint{Milestone: 1, Phase: name, Status: "completed"}))
	}

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fa.calls("research"))
	assert.Empty(t, fa.calls("planning"))
	assert.Len(t, fa.calls("implement"), 1)

	prog, err := store.LoadProgress()
	require.NoError(t, err)
	assert.Equal(t, "skipped", prog.Milestones[0].Phases["research"])
	assert.Len(t, results.Milestones[0].Phases, len(phase.Ordered())-2)
}

func TestPipeline_ParallelLintTypecheck(t *testing.T) {
	fa := newFakeAgent()
	p, _, _ := newTestPipeline(t, fa, &tools{}, func(_ *config.Config, o *config.Options) {
		o.Parallel = true
	})

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, fa.calls("lint"), 1)
	assert.Len(t, fa.calls("typecheck"), 1)

	var names []string
	for _, ph := range results.Milestones[0].Phases {
		names = append(names, ph.Phase)
	}
	assert.Equal(t, []string{"lint", "typecheck"}, names[4:6])
}

func TestPipeline_FileParallelSkipsAgentWhenClean(t *testing.T) {
	fa := newFakeAgent()
	tl := &tools{}
	p, _, _ := newTestPipeline(t, fa, tl, func(_ *config.Config, o *config.Options) {
		o.FileParallel = true
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fa.calls("lint"))
	assert.Empty(t, fa.calls("typecheck"))
}

func TestPipeline_SetupFailure(t *testing.T) {
	fa := newFakeAgent()
	tl := &tools{overrides: map[string]func() pycheck.Output{
		"pip": func() pycheck.Output { return pycheck.Output{Text: "no such package", ExitCode: 1} },
	}}
	p, store, _ := newTestPipeline(t, fa, tl, func(c *config.Config, _ *config.Options) {
		c.Commands.Setup = [][]string{{"pip", "install", "-r", "requirements.txt"}}
	})

	results, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup command")
	assert.Empty(t, results.Milestones)

	saved, err := store.LoadResults()
	require.NoError(t, err)
	require.NotNil(t, saved, "results are written even when setup fails")
}

func TestPipeline_MilestoneFilter(t *testing.T) {
	fa := newFakeAgent()
	p, _, _ := newTestPipeline(t, fa, &tools{}, func(_ *config.Config, o *config.Options) {
		o.Milestone = 7
	})
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, fa.calls("research"))
}

type stubStrategy struct{ called int }

func (s *stubStrategy) RunMilestone(_ context.Context, ms milestone.Milestone) (state.MilestoneResult, error) {
	s.called++
	return state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: "completed", Strategy: "stub"}, nil
}

func TestPipeline_SetMilestoneRunner(t *testing.T) {
	fa := newFakeAgent()
	p, _, _ := newTestPipeline(t, fa, &tools{}, nil)
	s := &stubStrategy{}
	p.SetMilestoneRunner(s)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.called)
	assert.Equal(t, "stub", results.Milestones[0].Strategy)
	assert.Empty(t, fa.calls("research"))
}

func TestReport(t *testing.T) {
	r := &state.Results{
		RunID:  "r1",
		Status: "failed",
		Error:  "milestone failed",
		Milestones: []state.MilestoneResult{{
			Number: 1, Name: "Core", Status: "failed", StepBacks: 2,
			Phases: []state.PhaseResult{
				{Phase: "research", Status: "completed", Attempts: 1},
				{Phase: "test", Status: "failed", Attempts: 4, Error: "1 failed"},
			},
		}},
	}
	out := Report(r)
	assert.Contains(t, out, "# cc-automator run r1")
	assert.Contains(t, out, "| research | ✅ completed | 1 |")
	assert.Contains(t, out, "| test | ❌ failed | 4 |")
	assert.Contains(t, out, "**test error:** 1 failed")
	assert.Contains(t, out, "step-backs: 2")
}

func TestPipeline_RunPhasesFromStepsBackBeforeStart(t *testing.T) {
	fa := newFakeAgent()
	fa.analysis = "ROOT_CAUSE_IN_EARLIER_PHASE: yes\nTARGET_PHASE: implement\n"

	var mu sync.Mutex
	validateRuns := 0
	fa.onPhase = func(name, _ string) bool {
		if name != "validate" {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		validateRuns++
		return validateRuns > 3
	}
	p, _, _ := newTestPipeline(t, fa, &tools{}, nil)
	ms := milestone.Milestone{Number: 1, Name: "Core arithmetic"}

	mr, err := p.RunPhasesFrom(context.Background(), ms, phase.Ordered(), phase.Validate)
	require.NoError(t, err)
	assert.Equal(t, config.RunStatusCompleted, mr.Status)
	assert.Equal(t, 1, mr.StepBacks)
	assert.Empty(t, fa.calls("research"))
	assert.Len(t, fa.calls("implement"), 1)
	assert.Len(t, fa.calls("commit"), 1)

	_, err = p.RunPhasesFrom(context.Background(), ms, []phase.Type{phase.Lint}, phase.Commit)
	assert.Error(t, err)
}

func TestPipeline_GuidanceReachesPlanningAndImplement(t *testing.T) {
	fa := newFakeAgent()
	p, _, _ := newTestPipeline(t, fa, &tools{}, nil)
	p.Runner().SetGuidance("Keep every module under 200 lines.")
	assert.Equal(t, "Keep every module under 200 lines.", p.Runner().Guidance())

	ms := milestone.Milestone{Number: 1, Name: "Core arithmetic"}
	_, err := p.RunPhases(context.Background(), ms, []phase.Type{phase.Research, phase.Planning, phase.Implement})
	require.NoError(t, err)

	assert.NotContains(t, fa.calls("research")[0], "Keep every module under 200 lines.")
	assert.Contains(t, fa.calls("planning")[0], "Keep every module under 200 lines.")
	assert.Contains(t, fa.calls("implement")[0], "Keep every module under 200 lines.")
}
