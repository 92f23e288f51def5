package v4

import (
	"sort"
	"strings"

	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/state"
)

// FailureSummary aggregates the failure log.
type FailureSummary struct {
	Total                int            `json:"total"`
	ByPhase              map[string]int `json:"by_phase"`
	ByClass              map[string]int `json:"by_class"`
	Repeated             []string       `json:"repeated,omitempty"`
	ArchitectureFailures int            `json:"architecture_failures"`
	MostFailedPhase      string         `json:"most_failed_phase,omitempty"`
	Recommendation       Strategy       `json:"recommendation"`
}

// FailureAnalyzer summarises failure history for strategy selection.
type FailureAnalyzer struct {
	// RepeatThreshold is how often a message must recur to count as repeated.
	RepeatThreshold int
}

// NewFailureAnalyzer creates a FailureAnalyzer that treats a message seen
// twice as repeated.
func NewFailureAnalyzer() *FailureAnalyzer {
	return &FailureAnalyzer{RepeatThreshold: 2}
}

// Analyze summarises history.
func (a *FailureAnalyzer) Analyze(history []state.Failure) FailureSummary {
	s := FailureSummary{
		Total:          len(history),
		ByPhase:        make(map[string]int),
		ByClass:        make(map[string]int),
		Recommendation: StrategyV3Pipeline,
	}
	threshold := a.RepeatThreshold
	if threshold < 2 {
		threshold = 2
	}

	messages := make(map[string]int)
	for _, f := range history {
		s.ByPhase[f.Phase]++
		if f.ErrorType != "" {
			s.ByClass[f.ErrorType]++
		}
		if f.Phase == string(phase.Architecture) {
			s.ArchitectureFailures++
		}
		if msg := normalizeMessage(f.Message); msg != "" {
			messages[f.Phase+": "+msg]++
		}
	}
	for msg, n := range messages {
		if n >= threshold {
			s.Repeated = append(s.Repeated, msg)
		}
	}
	sort.Strings(s.Repeated)

	best := 0
	for _, t := range phase.Ordered() {
		if n := s.ByPhase[string(t)]; n > best {
			best, s.MostFailedPhase = n, string(t)
		}
	}

	switch {
	case s.ArchitectureFailures >= 2:
		s.Recommendation = StrategyIterativeRefinement
	case len(s.Repeated) > 0:
		s.Recommendation = StrategyParallelExploration
	}
	return s
}

func normalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.ToLower(strings.Join(strings.Fields(msg), " "))
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
