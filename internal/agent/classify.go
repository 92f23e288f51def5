package agent

import (
	"errors"
	"strings"
)

// ErrorClass categorizes how an agent run ended badly.
type ErrorClass int

const (
	// ClassNone means the run completed cleanly.
	ClassNone ErrorClass = iota
	// ClassBenignCleanup is async teardown noise after the work finished.
	ClassBenignCleanup
	// ClassNetworkTimeout is a network or web-search timeout.
	ClassNetworkTimeout
	// ClassAuth is an authentication failure.
	ClassAuth
	// ClassCostParse is a malformed cost field in the result message.
	ClassCostParse
	// ClassMaxTurns means the agent ran out of turns.
	ClassMaxTurns
	// ClassTimeout means the phase deadline expired and the process was killed.
	ClassTimeout
	// ClassExecution is any other failure.
	ClassExecution
)

var classNames = map[ErrorClass]string{
	ClassNone:           "none",
	ClassBenignCleanup:  "benign_cleanup",
	ClassNetworkTimeout: "network_timeout",
	ClassAuth:           "auth",
	ClassCostParse:      "cost_parse",
	ClassMaxTurns:       "max_turns",
	ClassTimeout:        "timeout",
	ClassExecution:      "execution",
}

func (c ErrorClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether a run ending with this class deserves one
// immediate local retry before the escalation machinery sees it.
func (c ErrorClass) Retryable() bool {
	return c == ClassNetworkTimeout || c == ClassAuth
}

// Sentinel errors carried in Result.Err.
var (
	ErrTimeout    = errors.New("agent timed out")
	ErrMaxTurns   = errors.New("agent reached max turns")
	ErrNoResult   = errors.New("agent exited without a result")
	ErrNoArtifact = errors.New("agent reported an execution error and produced no artifact")
)

var (
	cleanupKeywords = []string{"cancel scope", "cleanup", "shutdown", "closing", "aclose", "generatorexit"}
	networkKeywords = []string{"timed out", "timeout", "etimedout", "econnreset", "connection reset", "websearch", "web_search", "network error", "temporarily unavailable", "overloaded"}
	authKeywords    = []string{"authentication", "unauthorized", "401", "invalid api key", "invalid x-api-key", "please run /login", "not logged in", "oauth token"}
)

// ClassifyText maps raw error output to an ErrorClass.
func ClassifyText(text string) ErrorClass {
	lower := strings.ToLower(text)
	switch {
	case text == "":
		return ClassExecution
	case IsBenignCleanup(text):
		return ClassBenignCleanup
	case isCostParse(lower):
		return ClassCostParse
	case containsAny(lower, authKeywords):
		return ClassAuth
	case containsAny(lower, networkKeywords):
		return ClassNetworkTimeout
	default:
		return ClassExecution
	}
}

// IsBenignCleanup reports whether text is async task-group teardown noise:
// a TaskGroup mention together with a cleanup keyword.
func IsBenignCleanup(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "taskgroup") && containsAny(lower, cleanupKeywords)
}

func isCostParse(lower string) bool {
	return strings.Contains(lower, "cost") &&
		(strings.Contains(lower, "parse") || strings.Contains(lower, "total_cost") || strings.Contains(lower, "keyerror"))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
