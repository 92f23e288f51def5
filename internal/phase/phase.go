// Package phase defines the pipeline's phase types, their execution defaults
// and the per-attempt Phase record with its forward-only status machine.
package phase

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies a pipeline phase.
type Type string

const (
	Research     Type = "research"
	Planning     Type = "planning"
	Implement    Type = "implement"
	Architecture Type = "architecture"
	Lint         Type = "lint"
	Typecheck    Type = "typecheck"
	Test         Type = "test"
	Integration  Type = "integration"
	E2E          Type = "e2e"
	Validate     Type = "validate"
	Commit       Type = "commit"
)

var ordered = []Type{
	Research, Planning, Implement, Architecture, Lint, Typecheck,
	Test, Integration, E2E, Validate, Commit,
}

// Ordered returns all phase types in pipeline order.
func Ordered() []Type {
	out := make([]Type, len(ordered))
	copy(out, ordered)
	return out
}

// ParseType converts a phase name to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t.Index() < 0 {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return t, nil
}

// Index returns the position of t in pipeline order, or -1.
func (t Type) Index() int {
	for i, o := range ordered {
		if o == t {
			return i
		}
	}
	return -1
}

// Before reports whether t runs earlier in the pipeline than other.
func (t Type) Before(other Type) bool {
	i, j := t.Index(), other.Index()
	return i >= 0 && j >= 0 && i < j
}

// Between returns the phases from start up to but excluding end, in order.
func Between(start, end Type) []Type {
	i, j := start.Index(), end.Index()
	if i < 0 || j < 0 || i >= j {
		return nil
	}
	out := make([]Type, j-i)
	copy(out, ordered[i:j])
	return out
}

// Status is the execution state of a phase attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusSkipped:
		return true
	}
	return false
}

// ErrInvalidTransition is returned for backward or post-terminal transitions.
var ErrInvalidTransition = errors.New("invalid phase status transition")

// Phase is one execution attempt of a phase type within a milestone.
type Phase struct {
	Type         Type          `json:"type"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Prompt       string        `json:"-"`
	AllowedTools []string      `json:"allowed_tools"`
	MaxTurns     int           `json:"max_turns"`
	Timeout      time.Duration `json:"timeout"`
	Model        string        `json:"model,omitempty"`
	Attempt      int           `json:"attempt"`

	Status    Status        `json:"status"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration"`
	SessionID string        `json:"session_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Evidence  []string      `json:"evidence,omitempty"`
}

// New builds a pending Phase from the dispatch table defaults.
func New(t Type) *Phase {
	cfg := Lookup(t)
	return &Phase{
		Type:         t,
		Name:         string(t),
		Description:  cfg.Description,
		AllowedTools: append([]string(nil), cfg.AllowedTools...),
		MaxTurns:     cfg.MaxTurns,
		Timeout:      cfg.Timeout,
		Attempt:      1,
		Status:       StatusPending,
	}
}

// Transition moves the phase to a new status. Pending may go to running or
// skipped; running may go to any terminal status. Everything else is rejected.
func (p *Phase) Transition(to Status) error {
	from := p.Status
	if from == "" {
		from = StatusPending
	}
	ok := false
	switch from {
	case StatusPending:
		ok = to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		ok = to.Terminal()
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	p.Status = to
	return nil
}

// Retry returns a fresh pending attempt carrying the same settings and a new
// prompt.
func (p *Phase) Retry(prompt string) *Phase {
	next := &Phase{
		Type:         p.Type,
		Name:         p.Name,
		Description:  p.Description,
		Prompt:       prompt,
		AllowedTools: append([]string(nil), p.AllowedTools...),
		MaxTurns:     p.MaxTurns,
		Timeout:      p.Timeout,
		Model:        p.Model,
		Attempt:      p.Attempt + 1,
		Status:       StatusPending,
	}
	return next
}
