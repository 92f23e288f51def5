package v4

import (
	"fmt"
	"strings"
)

// Strategy names how a milestone is executed.
type Strategy string

const (
	StrategyV3Pipeline          Strategy = "v3_pipeline"
	StrategyIterativeRefinement Strategy = "iterative_refinement"
	StrategyParallelExploration Strategy = "parallel_exploration"
)

// Strategies returns every strategy in fallback order.
func Strategies() []Strategy {
	return []Strategy{StrategyV3Pipeline, StrategyIterativeRefinement, StrategyParallelExploration}
}

// Decision is a selected strategy and the reasons for it.
type Decision struct {
	Strategy Strategy
	Reasons  []string
	Context  ProjectContext
	Failures FailureSummary
}

// Explain renders the decision for --explain.
func (d Decision) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strategy: %s\n", d.Strategy)
	fmt.Fprintf(&b, "project type: %s, complexity %.2f, clarity %.2f, %d criteria\n",
		d.Context.ProjectType, d.Context.ComplexityScore, d.Context.RequirementClarity, d.Context.CriteriaCount)
	if len(d.Context.TechnologyStack) > 0 {
		fmt.Fprintf(&b, "stack: %s\n", strings.Join(d.Context.TechnologyStack, ", "))
	}
	if d.Failures.Total > 0 {
		fmt.Fprintf(&b, "past failures: %d (most in %s)\n", d.Failures.Total, d.Failures.MostFailedPhase)
	}
	for _, r := range d.Reasons {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Decision thresholds.
const (
	highComplexity   = 0.7
	raisedComplexity = 0.6
	lowClarity       = 0.4
	unclear          = 0.5
)

// StrategyManager selects a strategy per milestone.
type StrategyManager struct {
	learning *LearningStore
	parallel bool
}

// NewStrategyManager creates a StrategyManager. learning may be nil.
// parallel allows parallel_exploration to be chosen.
func NewStrategyManager(learning *LearningStore, parallel bool) *StrategyManager {
	return &StrategyManager{learning: learning, parallel: parallel}
}

// Select applies the decision table, then the parallel switch and learned
// demotions.
func (m *StrategyManager) Select(pc ProjectContext, fs FailureSummary) Decision {
	d := Decision{Context: pc, Failures: fs}

	switch {
	case pc.PastArchitectureFailures >= 2:
		d.Strategy = StrategyIterativeRefinement
		d.because("architecture failed %d times before; refine the design in rounds", pc.PastArchitectureFailures)
	case len(fs.Repeated) > 0 && pc.ComplexityScore >= unclear:
		d.Strategy = StrategyParallelExploration
		d.because("%d errors keep recurring (%s); explore alternative implementations", len(fs.Repeated), fs.Repeated[0])
	case pc.ComplexityScore >= highComplexity && pc.RequirementClarity < unclear:
		d.Strategy = StrategyParallelExploration
		d.because("complexity %.2f with clarity %.2f; explore alternative implementations", pc.ComplexityScore, pc.RequirementClarity)
	case pc.ComplexityScore >= raisedComplexity:
		d.Strategy = StrategyIterativeRefinement
		d.because("complexity %.2f; refine the design in rounds", pc.ComplexityScore)
	case pc.RequirementClarity < lowClarity:
		d.Strategy = StrategyIterativeRefinement
		d.because("requirement clarity %.2f; refine the design in rounds", pc.RequirementClarity)
	default:
		d.Strategy = StrategyV3Pipeline
		d.because("complexity %.2f and clarity %.2f suit the standard pipeline", pc.ComplexityScore, pc.RequirementClarity)
	}

	if d.Strategy == StrategyParallelExploration && !m.parallel {
		d.Strategy = StrategyIterativeRefinement
		d.because("parallel execution is disabled; using iterative refinement instead")
	}

	if m.learning != nil && m.learning.Demoted(pc.ProjectType, d.Strategy) {
		demoted := d.Strategy
		for _, alt := range Strategies() {
			if alt == demoted || (alt == StrategyParallelExploration && !m.parallel) {
				continue
			}
			if !m.learning.Demoted(pc.ProjectType, alt) {
				d.Strategy = alt
				d.because("%s failed %d times in a row for %s projects; demoted to %s", demoted, DemoteAfter, pc.ProjectType, alt)
				break
			}
		}
		if d.Strategy == demoted {
			d.because("every strategy is demoted for %s projects; keeping %s", pc.ProjectType, demoted)
		}
	}
	return d
}

func (d *Decision) because(format string, args ...interface{}) {
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}
