package recovery

import (
	"context"
	"fmt"
	"math"

	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/prompt"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/state"
)

// Level is a rung of the escalation ladder.
type Level int

const (
	LevelInitial Level = iota
	LevelTargeted
	LevelEnhanced
	LevelDependency
	LevelFinal
)

func (l Level) String() string {
	switch l {
	case LevelInitial:
		return "initial"
	case LevelTargeted:
		return "targeted"
	case LevelEnhanced:
		return "enhanced"
	case LevelDependency:
		return "dependency"
	case LevelFinal:
		return "final"
	default:
		return "unknown"
	}
}

// enhancedTurnsFactor scales max turns for the enhanced retry.
const enhancedTurnsFactor = 1.5

// AttemptRequest asks the phase runner for one more attempt.
type AttemptRequest struct {
	Milestone int
	Phase     phase.Type
	Prompt    string
	MaxTurns  int
	Level     Level
}

// AttemptResult is the validated outcome of an attempt.
type AttemptResult struct {
	OK        bool
	Feedback  string
	Issues    []pycheck.Issue
	Artifacts string
	Class     agent.ErrorClass
	CostUSD   float64
}

// Attempter runs and validates a single phase attempt.
type Attempter interface {
	Attempt(ctx context.Context, req AttemptRequest) AttemptResult
}

// Analyst answers a dependency-analysis prompt without changing files.
type Analyst interface {
	Analyze(ctx context.Context, milestone int, t phase.Type, prompt string) (string, error)
}

// Failure is the state handed to Recover after the initial attempt failed.
type Failure struct {
	Milestone  int
	Phase      phase.Type
	BasePrompt string
	MaxTurns   int
	Feedback   string
	Issues     []pycheck.Issue
	Artifacts  string
	Attempt    int
	Class      agent.ErrorClass
}

// Outcome is the decision of the recovery machine.
type Outcome struct {
	Recovered bool
	Level     Level
	Attempts  int
	CostUSD   float64
	// StepBack is set when the root cause was traced to an earlier phase.
	StepBack       phase.Type
	FailureContext string
	Feedback       string
	Issues         []pycheck.Issue
	// Class is the error class of the last failed attempt.
	Class agent.ErrorClass
	Err   error
}

// Escalator drives failed phases through the escalation ladder.
type Escalator struct {
	attempter       Attempter
	analyst         Analyst
	history         *FailureHistory
	budget          *Budget
	stagnationLimit int
	observer        func(Failure, Level)
	log             *logging.Logger
}

// EscalatorOptions holds the dependencies of an Escalator.
type EscalatorOptions struct {
	Attempter       Attempter
	Analyst         Analyst
	History         *FailureHistory
	Budget          *Budget
	StagnationLimit int
	// OnEscalate is called before each escalated attempt.
	OnEscalate func(Failure, Level)
}

// NewEscalator creates an Escalator.
func NewEscalator(opts EscalatorOptions) *Escalator {
	history := opts.History
	if history == nil {
		history, _ = NewFailureHistory(nil)
	}
	budget := opts.Budget
	if budget == nil {
		budget = NewBudget(3, false)
	}
	return &Escalator{
		attempter:       opts.Attempter,
		analyst:         opts.Analyst,
		history:         history,
		budget:          budget,
		stagnationLimit: opts.StagnationLimit,
		observer:        opts.OnEscalate,
		log:             logging.With("component", "recovery"),
	}
}

// History returns the failure history.
func (e *Escalator) History() *FailureHistory {
	return e.history
}

// Budget returns the step-back budget.
func (e *Escalator) Budget() *Budget {
	return e.budget
}

// Recover escalates a failed phase: targeted retry, enhanced retry,
// dependency analysis, then either a step-back decision or one final fix.
// In infinite mode the ladder repeats until the outstanding issues stop
// changing.
func (e *Escalator) Recover(ctx context.Context, f Failure) Outcome {
	var out Outcome
	tracker := NewStagnationTracker(e.stagnationLimit)
	tracker.Observe(Signature(f.Issues))
	e.record(f, LevelInitial)

	for {
		if done := e.climb(ctx, &f, &out); done {
			return out
		}
		if !e.budget.Infinite() {
			return out
		}
		if tracker.Observe(Signature(f.Issues)) {
			out.Err = fmt.Errorf("%w after %d unchanged iterations", ErrStagnated, tracker.Stagnant())
			return out
		}
		e.log.Info("infinite mode: restarting escalation", "milestone", f.Milestone, "phase", string(f.Phase), "stagnant", tracker.Stagnant())
	}
}

// climb runs one pass of the ladder. It returns false only in infinite mode
// when every level failed without a step-back decision.
func (e *Escalator) climb(ctx context.Context, f *Failure, out *Outcome) bool {
	levels := []struct {
		level  Level
		prompt func() string
		turns  int
	}{
		{LevelTargeted, func() string { return prompt.Targeted(f.BasePrompt, f.Feedback) }, f.MaxTurns},
		{LevelEnhanced, func() string { return prompt.Enhanced(f.BasePrompt, f.Feedback, f.Artifacts) }, scaleTurns(f.MaxTurns)},
	}
	for _, l := range levels {
		if done := e.try(ctx, f, out, l.level, l.prompt(), l.turns); done {
			return true
		}
	}

	out.Level = LevelDependency
	if ctx.Err() != nil {
		out.Err = ctx.Err()
		return true
	}
	answer, analysis := e.analyze(ctx, f)
	if target, ok := answer.StepBackTarget(f.Phase); ok {
		if e.budget.Allow(f.Milestone) {
			out.StepBack = target
			out.FailureContext = FailureContext(f.Phase, f.Feedback, f.Issues, analysis)
			out.Feedback, out.Issues = f.Feedback, f.Issues
			e.log.Info("stepping back", "milestone", f.Milestone, "from", string(f.Phase), "to", string(target))
			return true
		}
		e.log.Warn("step-back budget exhausted", "milestone", f.Milestone, "phase", string(f.Phase), "target", string(target))
	}

	if done := e.try(ctx, f, out, LevelFinal, prompt.FinalFix(f.BasePrompt, f.Feedback), f.MaxTurns); done {
		return true
	}
	out.Err = fmt.Errorf("phase %s failed after escalation: %s", f.Phase, firstLine(f.Feedback))
	return !e.budget.Infinite()
}

// try runs one attempt and updates f with its feedback. It reports whether
// recovery is finished (success or cancellation).
func (e *Escalator) try(ctx context.Context, f *Failure, out *Outcome, level Level, p string, turns int) bool {
	if ctx.Err() != nil {
		out.Err = ctx.Err()
		return true
	}
	if e.observer != nil {
		e.observer(*f, level)
	}
	f.Attempt++
	res := e.attempter.Attempt(ctx, AttemptRequest{
		Milestone: f.Milestone,
		Phase:     f.Phase,
		Prompt:    p,
		MaxTurns:  turns,
		Level:     level,
	})
	out.Attempts++
	out.CostUSD += res.CostUSD
	out.Level = level
	if res.OK {
		out.Recovered = true
		out.Err = nil
		return true
	}
	f.Feedback, f.Issues, f.Class = res.Feedback, res.Issues, res.Class
	out.Class = res.Class
	if res.Artifacts != "" {
		f.Artifacts = res.Artifacts
	}
	out.Feedback, out.Issues = f.Feedback, f.Issues
	e.record(*f, level)
	return false
}

func (e *Escalator) analyze(ctx context.Context, f *Failure) (DependencyAnswer, string) {
	if e.analyst == nil {
		return DependencyAnswer{}, ""
	}
	if e.observer != nil {
		e.observer(*f, LevelDependency)
	}
	text, err := e.analyst.Analyze(ctx, f.Milestone, f.Phase,
		prompt.DependencyAnalysis(f.Phase, f.Feedback, e.history.Summary(f.Milestone, 10)))
	if err != nil {
		e.log.Warn("dependency analysis failed", "phase", string(f.Phase), "error", err)
		return DependencyAnswer{}, ""
	}
	answer := ParseDependencyAnswer(text)
	if answer.InvalidTarget != "" {
		e.log.Warn("dependency analysis named unknown phase", "target", answer.InvalidTarget)
	}
	return answer, text
}

func (e *Escalator) record(f Failure, level Level) {
	err := e.history.Record(state.Failure{
		Milestone: f.Milestone,
		Phase:     string(f.Phase),
		ErrorType: f.Class.String(),
		Message:   f.Feedback,
		Attempt:   f.Attempt,
		Level:     int(level),
	})
	if err != nil {
		e.log.Warn("failed to record failure", "error", err)
	}
}

func scaleTurns(turns int) int {
	return int(math.Ceil(float64(turns) * enhancedTurnsFactor))
}
