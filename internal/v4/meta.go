package v4

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/orchestrator"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/state"
)

// DefaultRefinementRounds bounds the draft rounds of iterative refinement.
const DefaultRefinementRounds = 2

// draftPhases are the phases iterative refinement repeats.
func draftPhases() []phase.Type {
	var out []phase.Type
	for _, t := range phase.Ordered() {
		if !phase.Architecture.Before(t) {
			out = append(out, t)
		}
	}
	return out
}

// MetaOptions holds the dependencies of a MetaOrchestrator.
type MetaOptions struct {
	Pipeline *orchestrator.Pipeline
	Config   *config.Config
	Run      config.Options
	// Learning is optional; outcomes are recorded when set.
	Learning *LearningStore
	// Explorer is optional; without it parallel_exploration is never chosen.
	Explorer *MultiExecutor
	Printer  *display.Printer
	Rounds   int
}

// MetaOrchestrator picks a strategy per milestone and runs it. It
// implements orchestrator.MilestoneRunner.
type MetaOrchestrator struct {
	pipeline   *orchestrator.Pipeline
	cfg        *config.Config
	run        config.Options
	contexts   *ContextAnalyzer
	failures   *FailureAnalyzer
	strategies *StrategyManager
	learning   *LearningStore
	explorer   *MultiExecutor
	printer    *display.Printer
	rounds     int
	log        *logging.Logger
}

// NewMetaOrchestrator creates a MetaOrchestrator.
func NewMetaOrchestrator(opts MetaOptions) (*MetaOrchestrator, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = DefaultRefinementRounds
	}
	return &MetaOrchestrator{
		pipeline:   opts.Pipeline,
		cfg:        opts.Config,
		run:        opts.Run,
		contexts:   NewContextAnalyzer(),
		failures:   NewFailureAnalyzer(),
		strategies: NewStrategyManager(opts.Learning, opts.Explorer != nil && opts.Config.V4.Parallel),
		learning:   opts.Learning,
		explorer:   opts.Explorer,
		printer:    opts.Printer,
		rounds:     rounds,
		log:        logging.With("component", "v4"),
	}, nil
}

// Decide selects the strategy for ms from the spec and failure log.
func (m *MetaOrchestrator) Decide(ms milestone.Milestone) (Decision, error) {
	store := m.pipeline.Store()
	spec, err := os.ReadFile(filepath.Join(store.ProjectDir(), orchestrator.SpecFile))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read spec: %w", err)
	}
	history, err := store.LoadFailures()
	if err != nil {
		return Decision{}, err
	}
	pc := m.contexts.Analyze(string(spec), ms, history)
	return m.strategies.Select(pc, m.failures.Analyze(history)), nil
}

// RunMilestone implements orchestrator.MilestoneRunner.
func (m *MetaOrchestrator) RunMilestone(ctx context.Context, ms milestone.Milestone) (state.MilestoneResult, error) {
	d, err := m.Decide(ms)
	if err != nil {
		return state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: config.RunStatusFailed}, err
	}
	log := m.log.WithFields(map[string]interface{}{"milestone": ms.Number, "strategy": string(d.Strategy)})
	log.Info("strategy selected", "reasons", d.Reasons)
	if m.printer != nil {
		if m.run.Explain {
			m.printer.Block(d.Explain())
		} else {
			m.printer.Info("strategy: %s", d.Strategy)
		}
	}

	var mr state.MilestoneResult
	switch d.Strategy {
	case StrategyIterativeRefinement:
		mr, err = m.refine(ctx, ms)
	case StrategyParallelExploration:
		mr, err = m.explore(ctx, ms)
	default:
		mr, err = m.pipeline.RunMilestone(ctx, ms)
	}
	mr.Strategy = string(d.Strategy)

	if m.learning != nil && ctx.Err() == nil {
		if rerr := m.learning.Record(d.Context.ProjectType, d.Strategy, err == nil); rerr != nil {
			log.Warn("failed to record strategy outcome", "error", rerr)
		}
	}
	return mr, err
}

// refine drafts research through architecture up to rounds times, feeding
// each failure into the next round's guidance, then runs the rest of the
// pipeline.
func (m *MetaOrchestrator) refine(ctx context.Context, ms milestone.Milestone) (state.MilestoneResult, error) {
	runner := m.pipeline.Runner()
	prev := runner.Guidance()
	defer runner.SetGuidance(prev)

	var (
		mr  state.MilestoneResult
		err error
	)
	for round := 1; round <= m.rounds; round++ {
		var draft state.MilestoneResult
		draft, err = m.pipeline.RunPhases(ctx, ms, draftPhases())
		mr = merge(mr, draft)
		if err == nil || ctx.Err() != nil {
			break
		}
		m.log.Info("refinement round failed", "milestone", ms.Number, "round", round, "error", err)
		if m.printer != nil && round < m.rounds {
			m.printer.Warn("refinement round %d failed, revising the design", round)
		}
		runner.SetGuidance(refinementGuidance(prev, round, err))
	}
	if err != nil {
		mr.Status = config.RunStatusFailed
		return mr, err
	}

	rest, err := m.pipeline.RunPhasesFrom(ctx, ms, phase.Ordered(), phase.Lint)
	mr = merge(mr, rest)
	mr.Status = rest.Status
	return mr, err
}

// explore implements variants in parallel branches, promotes the winner and
// validates and commits it in the project.
func (m *MetaOrchestrator) explore(ctx context.Context, ms milestone.Milestone) (state.MilestoneResult, error) {
	ex, err := m.explorer.Explore(ctx, ms, Variants(m.cfg.V4.Variants))
	if err != nil {
		mr := state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: config.RunStatusFailed}
		if ex != nil {
			for _, b := range ex.Branches {
				mr.CostUSD += b.Result.CostUSD
			}
		}
		return mr, err
	}
	if m.printer != nil {
		m.printer.Success("variant %s won with score %.2f", ex.Winner.Branch.Variant.Name, ex.Winner.Score.Total)
	}

	mr := ex.Winner.Result
	for _, b := range ex.Branches {
		if b.Branch.Index != ex.Winner.Branch.Index {
			mr.CostUSD += b.Result.CostUSD
		}
	}
	rest, err := m.pipeline.RunPhasesFrom(ctx, ms, phase.Ordered(), phase.Validate)
	mr = merge(mr, rest)
	mr.Status = rest.Status
	return mr, err
}

func refinementGuidance(base string, round int, err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	g := fmt.Sprintf("Design round %d failed with: %s\nRevise the research and plan so this failure cannot recur before implementing again.", round, msg)
	if base != "" {
		g = base + "\n\n" + g
	}
	return strings.TrimSpace(g)
}

// merge folds b into a; phase entries of b replace those of a.
func merge(a, b state.MilestoneResult) state.MilestoneResult {
	if a.Number == 0 {
		a.Number, a.Name = b.Number, b.Name
	}
	a.Status = b.Status
	a.CostUSD += b.CostUSD
	if b.StepBacks > a.StepBacks {
		a.StepBacks = b.StepBacks
	}
	for _, pr := range b.Phases {
		replaced := false
		for i := range a.Phases {
			if a.Phases[i].Phase == pr.Phase {
				pr.Attempts += a.Phases[i].Attempts
				pr.CostUSD += a.Phases[i].CostUSD
				a.Phases[i] = pr
				replaced = true
				break
			}
		}
		if !replaced {
			a.Phases = append(a.Phases, pr)
		}
	}
	return a
}

// PipelineBranches returns a BranchFunc that runs BranchPhases through a
// fresh pipeline rooted in the branch directory, steered by the variant.
func PipelineBranches(base orchestrator.Options) BranchFunc {
	return func(ctx context.Context, b Branch, ms milestone.Milestone) (state.MilestoneResult, error) {
		opts := base
		opts.Store = b.Store
		opts.Guidance = b.Variant.Guidance
		opts.Printer = nil
		opts.Board = nil
		opts.Budget = nil
		opts.Run.Resume = false
		opts.Run.ProjectDir = b.Dir
		pl, err := orchestrator.New(opts)
		if err != nil {
			return state.MilestoneResult{Number: ms.Number, Name: ms.Name, Status: config.RunStatusFailed}, err
		}
		return pl.RunPhases(ctx, ms, BranchPhases())
	}
}
