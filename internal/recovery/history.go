// Package recovery implements the phase failure recovery machine: escalating
// retries, dependency analysis with step-back to earlier phases, the
// step-back budget and stagnation detection.
package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/state"
)

// FailureLog persists failures. *state.Store implements it.
type FailureLog interface {
	AppendFailure(state.Failure) error
	LoadFailures() ([]state.Failure, error)
}

// FailureHistory is the append-only record of phase failures.
type FailureHistory struct {
	mu      sync.Mutex
	entries []state.Failure
	log     FailureLog
}

// NewFailureHistory creates a history backed by log, loading prior entries.
// A nil log keeps the history in memory only.
func NewFailureHistory(log FailureLog) (*FailureHistory, error) {
	h := &FailureHistory{log: log}
	if log != nil {
		entries, err := log.LoadFailures()
		if err != nil {
			return nil, fmt.Errorf("failed to load failure history: %w", err)
		}
		h.entries = entries
	}
	return h, nil
}

// Record appends a failure.
func (h *FailureHistory) Record(f state.Failure) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.entries = append(h.entries, f)
	h.mu.Unlock()

	if h.log != nil {
		if err := h.log.AppendFailure(f); err != nil {
			return fmt.Errorf("failed to persist failure: %w", err)
		}
	}
	return nil
}

// All returns a copy of every recorded failure.
func (h *FailureHistory) All() []state.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]state.Failure, len(h.entries))
	copy(out, h.entries)
	return out
}

// For returns the failures of one phase in one milestone.
func (h *FailureHistory) For(milestone int, phase string) []state.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []state.Failure
	for _, f := range h.entries {
		if f.Milestone == milestone && f.Phase == phase {
			out = append(out, f)
		}
	}
	return out
}

// Repeated reports whether phase has failed at least n times in milestone
// with the same message.
func (h *FailureHistory) Repeated(milestone int, phase, message string, n int) bool {
	want := normalize(message)
	count := 0
	for _, f := range h.For(milestone, phase) {
		if normalize(f.Message) == want {
			count++
		}
	}
	return n > 0 && count >= n
}

// Summary renders the milestone's failures for inclusion in a prompt,
// newest last, at most limit entries.
func (h *FailureHistory) Summary(milestone int, limit int) string {
	h.mu.Lock()
	var picked []state.Failure
	for _, f := range h.entries {
		if f.Milestone == milestone {
			picked = append(picked, f)
		}
	}
	h.mu.Unlock()

	if limit > 0 && len(picked) > limit {
		picked = picked[len(picked)-limit:]
	}
	var b strings.Builder
	for _, f := range picked {
		fmt.Fprintf(&b, "- %s attempt %d", f.Phase, f.Attempt)
		if f.Level > 0 {
			fmt.Fprintf(&b, " (level %d)", f.Level)
		}
		fmt.Fprintf(&b, ": %s\n", firstLine(f.Message))
	}
	return b.String()
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
