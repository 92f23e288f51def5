package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/fileparallel"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/metrics"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/recovery"
	"github.com/thruflo/cc-automator/internal/state"
	"golang.org/x/sync/errgroup"
)

// SpecFile is the project specification read at the start of every run.
const SpecFile = "CLAUDE.md"

// ErrMilestoneFailed wraps the error of the phase that aborted a run.
var ErrMilestoneFailed = errors.New("milestone failed")

// MilestoneRunner runs one milestone. The pipeline runs milestones itself
// unless a strategy layer is installed with SetMilestoneRunner.
type MilestoneRunner interface {
	RunMilestone(ctx context.Context, ms milestone.Milestone) (state.MilestoneResult, error)
}

// Options holds the dependencies of a Pipeline.
type Options struct {
	Config   *config.Config
	Run      config.Options
	Store    *state.Store
	Agent    fileparallel.Agent
	Commands pycheck.CommandRunner
	Metrics  *metrics.Metrics
	Printer  *display.Printer
	// Board, when set, is re-rendered after every phase status change.
	Board *display.Board
	// Budget overrides the step-back budget built from config.
	Budget *recovery.Budget
	// Guidance steers the planning and implement phases; see PhaseRunnerOptions.
	Guidance string
	// Now is optional; used for deterministic timestamps in tests.
	Now func() time.Time
}

// Pipeline is the top-level orchestrator.
type Pipeline struct {
	cfg      *config.Config
	run      config.Options
	store    *state.Store
	commands pycheck.CommandRunner
	runner   *PhaseRunner
	metrics  *metrics.Metrics
	printer  *display.Printer
	board    *display.Board
	now      func() time.Time
	log      *logging.Logger

	milestones MilestoneRunner

	mu       sync.Mutex
	progress *state.Progress
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if opts.Commands == nil {
		opts.Commands = pycheck.NewExecRunner(opts.Config.Commands.Timeout)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	history, err := recovery.NewFailureHistory(opts.Store)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      opts.Config,
		run:      opts.Run,
		store:    opts.Store,
		commands: opts.Commands,
		metrics:  opts.Metrics,
		printer:  opts.Printer,
		board:    opts.Board,
		now:      opts.Now,
		log:      logging.With("component", "pipeline"),
	}
	p.runner = NewPhaseRunner(PhaseRunnerOptions{
		Store:    opts.Store,
		Config:   opts.Config,
		Run:      opts.Run,
		Agent:    opts.Agent,
		Commands: opts.Commands,
		Metrics:  opts.Metrics,
		Printer:  opts.Printer,
		Budget:   opts.Budget,
		History:  history,
		Guidance: opts.Guidance,
	})
	p.milestones = p
	return p, nil
}

// SetMilestoneRunner installs a strategy layer that decides how each
// milestone is run.
func (p *Pipeline) SetMilestoneRunner(m MilestoneRunner) {
	if m == nil {
		m = p
	}
	p.milestones = m
}

// Runner returns the phase runner.
func (p *Pipeline) Runner() *PhaseRunner {
	return p.runner
}

// Store returns the state store.
func (p *Pipeline) Store() *state.Store {
	return p.store
}

// LoadMilestones parses CLAUDE.md and applies the --milestone filter.
func (p *Pipeline) LoadMilestones() ([]milestone.Milestone, error) {
	all, err := milestone.LoadFile(filepath.Join(p.store.ProjectDir(), SpecFile))
	if err != nil {
		return nil, err
	}
	return milestone.Filter(all, p.run.Milestone)
}

// Run executes every selected milestone in ascending order. The returned
// Results is always non-nil and has been persisted.
func (p *Pipeline) Run(ctx context.Context) (*state.Results, error) {
	results := &state.Results{
		RunID:     uuid.NewString(),
		Project:   p.store.ProjectDir(),
		Status:    config.RunStatusRunning,
		StartedAt: p.now(),
	}
	err := p.runAll(ctx, results)
	p.finalize(results, err)
	return results, err
}

func (p *Pipeline) runAll(ctx context.Context, results *state.Results) error {
	if err := p.store.EnsureLayout(); err != nil {
		return err
	}
	milestones, err := p.LoadMilestones()
	if err != nil {
		return err
	}
	if err := p.initProgress(results.RunID, milestones); err != nil {
		return err
	}
	if p.printer != nil {
		p.printer.Banner(filepath.Base(p.store.ProjectDir()), len(milestones))
	}

	if !p.run.Resume {
		if err := p.Setup(ctx); err != nil {
			return err
		}
	}

	for _, ms := range milestones {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.printer != nil {
			p.printer.Milestone(ms.Number, ms.Name)
		}
		p.setMilestone(ms, config.RunStatusRunning)

		mr, err := p.milestones.RunMilestone(ctx, ms)
		results.Milestones = append(results.Milestones, mr)
		results.TotalCostUSD += mr.CostUSD
		if err != nil {
			p.setMilestone(ms, config.RunStatusFailed)
			return fmt.Errorf("%w: milestone %d: %w", ErrMilestoneFailed, ms.Number, err)
		}
		p.setMilestone(ms, config.RunStatusCompleted)
	}
	return nil
}

// Setup runs the configured setup commands in the project directory.
func (p *Pipeline) Setup(ctx context.Context) error {
	for _, cmd := range p.cfg.Commands.Setup {
		if len(cmd) == 0 {
			continue
		}
		p.log.Info("running setup command", "command", cmd)
		out, err := p.commands.Run(ctx, p.store.ProjectDir(), "", cmd...)
		if err != nil {
			return fmt.Errorf("setup command %v: %w", cmd, err)
		}
		if !out.OK() {
			return fmt.Errorf("setup command %v exited %d: %s", cmd, out.ExitCode, tail(out.Text, 500))
		}
	}
	return nil
}

// RunMilestone runs the full phase sequence for ms.
func (p *Pipeline) RunMilestone(ctx context.Context, ms milestone.Milestone) (state.MilestoneResult, error) {
	return p.RunPhases(ctx, ms, phase.Ordered())
}

// RunPhases runs the given phases of ms in order, handling resume,
// step-backs and the optional concurrent lint/typecheck pair.
func (p *Pipeline) RunPhases(ctx context.Context, ms milestone.Milestone, phases []phase.Type) (state.MilestoneResult, error) {
	if len(phases) == 0 {
		return state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: config.RunStatusCompleted}, nil
	}
	return p.RunPhasesFrom(ctx, ms, phases, phases[0])
}

// RunPhasesFrom is RunPhases starting at phase from. Phases before it are
// assumed done but remain valid step-back targets.
func (p *Pipeline) RunPhasesFrom(ctx context.Context, ms milestone.Milestone, phases []phase.Type, from phase.Type) (state.MilestoneResult, error) {
	mr := state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: config.RunStatusRunning}
	budget := p.runner.Budget()

	start := indexOf(phases, from)
	if start < 0 {
		mr.Status = config.RunStatusFailed
		return mr, fmt.Errorf("start phase %s is not part of this run", from)
	}

	var (
		failureContext string
		target         phase.Type
		failedIdx      = -1
		invalidated    = make(map[phase.Type]bool)
		stagnation     = recovery.NewStagnationTracker(p.cfg.Limits.StagnationLimit)
	)

	for i := start; i < len(phases); {
		if ctx.Err() != nil {
			mr.Status = config.RunStatusFailed
			return mr, ctx.Err()
		}
		t := phases[i]

		if p.run.Resume && !invalidated[t] && p.checkpointed(ms.Number, t) {
			p.setPhase(ms, t, phase.StatusSkipped)
			if p.printer != nil {
				p.printer.PhaseSkipped(string(t), "completed in a previous run")
			}
			i++
			continue
		}

		opts := ExecuteOptions{}
		if failedIdx >= 0 && i <= failedIdx {
			opts.FailureContext = failureContext
			opts.StepBackTarget = t == target
		}

		var outcomes []PhaseOutcome
		if p.run.Parallel && t == phase.Lint && i+1 < len(phases) && phases[i+1] == phase.Typecheck {
			outcomes = p.executePair(ctx, ms, [2]phase.Type{phase.Lint, phase.Typecheck}, opts)
		} else {
			p.setPhase(ms, t, phase.StatusRunning)
			out := p.runner.Execute(ctx, ms, t, opts)
			p.setPhase(ms, t, out.Phase.Status)
			outcomes = []PhaseOutcome{out}
		}

		var failed *PhaseOutcome
		for k := range outcomes {
			out := outcomes[k]
			mr.CostUSD += out.Phase.CostUSD
			mr.Phases = upsertPhase(mr.Phases, phaseResult(out))
			if !out.OK() && failed == nil {
				failed = &outcomes[k]
			}
		}

		if failed == nil {
			i += len(outcomes)
			if failedIdx >= 0 && i > failedIdx {
				failedIdx, failureContext, target = -1, "", ""
			}
			continue
		}

		if failed.StepBack == "" {
			mr.Status = config.RunStatusFailed
			mr.StepBacks = budget.Used(ms.Number)
			return mr, failed.Err
		}

		j := indexOf(phases, failed.StepBack)
		if j < 0 {
			mr.Status = config.RunStatusFailed
			mr.StepBacks = budget.Used(ms.Number)
			return mr, fmt.Errorf("step-back target %s is not part of this run: %w", failed.StepBack, failed.Err)
		}
		if budget.Infinite() && stagnation.Observe(stepBackSignature(failed)) {
			mr.Status = config.RunStatusFailed
			mr.StepBacks = budget.Used(ms.Number)
			return mr, fmt.Errorf("%w after %d identical step-backs from %s: %w",
				recovery.ErrStagnated, stagnation.Stagnant(), failed.Phase.Type, failed.Err)
		}
		if err := budget.Use(ms.Number); err != nil {
			mr.Status = config.RunStatusFailed
			mr.StepBacks = budget.Used(ms.Number)
			return mr, fmt.Errorf("%w: %w", err, failed.Err)
		}
		p.metrics.ObserveStepBack()
		if p.printer != nil {
			limit := p.cfg.Limits.MaxStepBacks
			if budget.Infinite() {
				limit = 0
			}
			p.printer.StepBack(string(failed.Phase.Type), string(failed.StepBack), budget.Used(ms.Number), limit)
		}

		failedAt := indexOf(phases, failed.Phase.Type)
		for _, rerun := range phases[j : failedAt+1] {
			invalidated[rerun] = true
			if err := p.store.ClearCheckpoint(ms.Number, string(rerun)); err != nil {
				p.log.Warn("failed to clear checkpoint", "phase", string(rerun), "error", err)
			}
		}
		failureContext, target, failedIdx = failed.FailureContext, failed.StepBack, failedAt
		i = j
	}

	mr.Status = config.RunStatusCompleted
	mr.StepBacks = budget.Used(ms.Number)
	return mr, nil
}

// executePair runs lint and typecheck concurrently. Outcomes are returned in
// pipeline order.
func (p *Pipeline) executePair(ctx context.Context, ms milestone.Milestone, pair [2]phase.Type, opts ExecuteOptions) []PhaseOutcome {
	outcomes := make([]PhaseOutcome, len(pair))
	var g errgroup.Group
	for k, t := range pair {
		k, t := k, t
		p.setPhase(ms, t, phase.StatusRunning)
		g.Go(func() error {
			o := opts
			o.StepBackTarget = opts.StepBackTarget && t == pair[0]
			outcomes[k] = p.runner.Execute(ctx, ms, t, o)
			p.setPhase(ms, t, outcomes[k].Phase.Status)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) checkpointed(n int, t phase.Type) bool {
	cp, err := p.store.LoadCheckpoint(n, string(t))
	if err != nil {
		p.log.Warn("failed to read checkpoint", "phase", string(t), "error", err)
		return false
	}
	return cp != nil && cp.Status == string(phase.StatusCompleted)
}

func (p *Pipeline) initProgress(runID string, milestones []milestone.Milestone) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var prog *state.Progress
	if p.run.Resume {
		loaded, err := p.store.LoadProgress()
		if err != nil {
			return err
		}
		prog = loaded
	}
	if prog == nil {
		prog = &state.Progress{StartedAt: p.now()}
	}
	prog.RunID = runID
	prog.Project = p.store.ProjectDir()
	prog.Status = config.RunStatusRunning
	for _, ms := range milestones {
		prog.Milestone(ms.Number, ms.Name)
	}
	p.progress = prog
	return p.store.SaveProgress(prog)
}

func (p *Pipeline) setMilestone(ms milestone.Milestone, status string) {
	p.update(func(prog *state.Progress) {
		prog.CurrentMilestone = ms.Number
		prog.Milestone(ms.Number, ms.Name).Status = status
	})
}

func (p *Pipeline) setPhase(ms milestone.Milestone, t phase.Type, status phase.Status) {
	p.update(func(prog *state.Progress) {
		prog.CurrentMilestone = ms.Number
		prog.CurrentPhase = string(t)
		prog.Milestone(ms.Number, ms.Name).Phases[string(t)] = string(status)
	})
}

func (p *Pipeline) update(fn func(*state.Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.progress == nil {
		return
	}
	fn(p.progress)
	if err := p.store.SaveProgress(p.progress); err != nil {
		p.log.Warn("failed to save progress", "error", err)
	}
	if p.board != nil && p.printer != nil {
		p.printer.Block(p.board.Render(p.progress, 100))
	}
}

// finalize always writes results.json, report.md and metrics.prom.
func (p *Pipeline) finalize(results *state.Results, runErr error) {
	results.FinishedAt = p.now()
	results.Duration = results.FinishedAt.Sub(results.StartedAt)
	results.Status = config.RunStatusCompleted
	if runErr != nil {
		results.Status = config.RunStatusFailed
		results.Error = runErr.Error()
	}

	p.update(func(prog *state.Progress) {
		prog.Status = results.Status
	})
	if err := p.store.SaveResults(results); err != nil {
		p.log.Error("failed to write results", "error", err)
	}
	if err := p.store.WriteReport(Report(results)); err != nil {
		p.log.Error("failed to write report", "error", err)
	}
	if err := p.metrics.WriteTextfile(p.store.MetricsPath()); err != nil {
		p.log.Warn("failed to write metrics", "error", err)
	}
}

func phaseResult(out PhaseOutcome) state.PhaseResult {
	return state.PhaseResult{
		Phase:    string(out.Phase.Type),
		Status:   string(out.Phase.Status),
		Attempts: out.Attempts,
		CostUSD:  out.Phase.CostUSD,
		Duration: out.Phase.Duration,
		Error:    out.Phase.Error,
		Evidence: out.Phase.Evidence,
	}
}

// upsertPhase replaces the entry for the same phase, so the result reflects
// the last execution after a step-back.
func upsertPhase(phases []state.PhaseResult, r state.PhaseResult) []state.PhaseResult {
	for i := range phases {
		if phases[i].Phase == r.Phase {
			r.Attempts += phases[i].Attempts
			r.CostUSD += phases[i].CostUSD
			phases[i] = r
			return phases
		}
	}
	return append(phases, r)
}

func indexOf(phases []phase.Type, t phase.Type) int {
	for i, p := range phases {
		if p == t {
			return i
		}
	}
	return -1
}

// stepBackSignature identifies a step-back by the failed phase, its target
// and the outstanding issues. Failures without parsed issues fall back to
// the first line of the feedback.
func stepBackSignature(o *PhaseOutcome) string {
	sig := string(o.Phase.Type) + ">" + string(o.StepBack) + ":"
	if len(o.Recovery.Issues) > 0 {
		return sig + recovery.Signature(o.Recovery.Issues)
	}
	return sig + firstLine(o.Recovery.Feedback)
}
