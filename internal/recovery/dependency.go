package recovery

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
)

// DependencyAnswer is the parsed reply to a dependency-analysis prompt.
type DependencyAnswer struct {
	// Found is false when the reply carried no ROOT_CAUSE line.
	Found         bool
	EarlierPhase  bool
	Target        phase.Type
	InvalidTarget string
}

var (
	rootCauseRe = regexp.MustCompile(`(?i)^\W*ROOT_CAUSE_IN_EARLIER_PHASE\W*:\s*\**\s*(yes|no)\b`)
	targetRe    = regexp.MustCompile(`(?i)^\W*TARGET_PHASE\W*:\s*\**\s*([a-z0-9_]+)`)
)

// ParseDependencyAnswer extracts the last ROOT_CAUSE_IN_EARLIER_PHASE and
// TARGET_PHASE lines from an analysis reply.
func ParseDependencyAnswer(text string) DependencyAnswer {
	var a DependencyAnswer
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := rootCauseRe.FindStringSubmatch(line); m != nil {
			a.Found = true
			a.EarlierPhase = strings.EqualFold(m[1], "yes")
		}
		if m := targetRe.FindStringSubmatch(line); m != nil {
			name := strings.ToLower(m[1])
			if t, err := phase.ParseType(name); err == nil {
				a.Target, a.InvalidTarget = t, ""
			} else if name != "none" {
				a.Target, a.InvalidTarget = "", name
			} else {
				a.Target, a.InvalidTarget = "", ""
			}
		}
	}
	return a
}

// StepBackTarget returns the phase to step back to for a failure in failed,
// or false when the answer does not name a valid earlier phase.
func (a DependencyAnswer) StepBackTarget(failed phase.Type) (phase.Type, bool) {
	if !a.Found || !a.EarlierPhase || a.Target == "" {
		return "", false
	}
	if !a.Target.Before(failed) {
		return "", false
	}
	return a.Target, true
}

// FailureContext describes a failure for injection into the prompts of the
// phases being re-run after a step-back.
func FailureContext(failed phase.Type, feedback string, issues []pycheck.Issue, analysis string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s phase failed validation:\n%s\n", failed, strings.TrimSpace(feedback))
	if len(issues) > 0 {
		b.WriteString("\nOutstanding issues:\n")
		for i, is := range issues {
			if i == 20 {
				fmt.Fprintf(&b, "- ... and %d more\n", len(issues)-20)
				break
			}
			fmt.Fprintf(&b, "- %s\n", is)
		}
	}
	if analysis = strings.TrimSpace(analysis); analysis != "" {
		b.WriteString("\nRoot cause analysis:\n")
		b.WriteString(analysis)
		b.WriteString("\n")
	}
	return b.String()
}
