// Package evidence decides whether a phase really succeeded by checking the
// project on disk and re-running its tooling. The agent's own report of
// success is never sufficient.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/state"
)

// Report is the outcome of validating one phase.
type Report struct {
	OK     bool            `json:"ok"`
	Reason string          `json:"reason,omitempty"`
	Issues []pycheck.Issue `json:"issues,omitempty"`
	Output string          `json:"-"`
	Files  []string        `json:"files,omitempty"`
}

func pass(files ...string) Report {
	return Report{OK: true, Files: files}
}

func fail(format string, args ...interface{}) Report {
	return Report{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks phase evidence for a project.
type Validator struct {
	store    *state.Store
	runner   pycheck.CommandRunner
	commands config.Commands
	minBytes int
	arch     pycheck.ArchitectureLimits
	log      *logging.Logger
}

// NewValidator creates a Validator.
func NewValidator(store *state.Store, runner pycheck.CommandRunner, cfg *config.Config) *Validator {
	return &Validator{
		store:    store,
		runner:   runner,
		commands: cfg.Commands,
		minBytes: cfg.Limits.MinEvidenceBytes,
		arch:     pycheck.DefaultArchitectureLimits(),
		log:      logging.With("component", "evidence"),
	}
}

// Validate checks the evidence of phase t for milestone n.
func (v *Validator) Validate(ctx context.Context, n int, t phase.Type) Report {
	return v.ValidateSince(ctx, n, t, time.Time{})
}

// ValidateSince is Validate for a single attempt: evidence files and
// execution logs last modified before since are treated as missing. A zero
// since accepts files of any age.
func (v *Validator) ValidateSince(ctx context.Context, n int, t phase.Type, since time.Time) Report {
	// Coarse filesystems store whole-second modification times.
	since = since.Truncate(time.Second)

	var r Report
	switch t {
	case phase.Research, phase.Planning, phase.Implement, phase.Validate:
		r = v.evidenceFile(n, t, since)
	case phase.Architecture:
		r = v.architecture()
	case phase.Lint:
		r = v.lint(ctx)
	case phase.Typecheck:
		r = v.typecheck(ctx)
	case phase.Test:
		r = v.pytest(ctx, v.commands.UnitTests)
	case phase.Integration:
		r = v.pytest(ctx, v.commands.IntegrationTests)
	case phase.E2E:
		r = v.e2e(ctx, n, since)
	case phase.Commit:
		r = v.commit(ctx, n, since)
	default:
		r = fail("no validation defined for phase %s", t)
	}
	v.log.Debug("validated phase", "milestone", n, "phase", string(t), "ok", r.OK, "reason", r.Reason, "issues", len(r.Issues))
	return r
}

func (v *Validator) evidenceFile(n int, t phase.Type, since time.Time) Report {
	path := v.store.EvidencePath(n, string(t))
	info, err := os.Stat(path)
	if err != nil {
		return fail("evidence file %s not found", v.rel(path))
	}
	if info.ModTime().Before(since) {
		return fail("evidence file %s was not written during this attempt (last modified %s)",
			v.rel(path), info.ModTime().Format(time.RFC3339))
	}
	if int(info.Size()) < v.minBytes {
		return fail("evidence file %s has %d bytes (need at least %d)", v.rel(path), info.Size(), v.minBytes)
	}
	return pass(path)
}

// Architecture runs the structural check without the phase wrapper; the
// strategy layer uses it for scoring.
func (v *Validator) Architecture() Report {
	return v.architecture()
}

func (v *Validator) architecture() Report {
	issues, err := pycheck.CheckArchitecture(v.store.ProjectDir(), v.arch)
	if err != nil {
		return fail("architecture check failed: %v", err)
	}
	if len(issues) > 0 {
		r := fail("%d architecture violations", len(issues))
		r.Issues = issues
		return r
	}
	return pass()
}

func (v *Validator) lint(ctx context.Context) Report {
	out, err := v.run(ctx, "", v.commands.Flake8)
	if err != nil {
		return fail("flake8: %v", err)
	}
	issues := pycheck.ParseFlake8(out.Text)
	if len(issues) > 0 {
		r := fail("flake8 reported %d errors", len(issues))
		r.Issues, r.Output = issues, out.Text
		return r
	}
	if out.TimedOut {
		return fail("flake8 timed out")
	}
	return pass()
}

func (v *Validator) typecheck(ctx context.Context) Report {
	out, err := v.run(ctx, "", v.commands.Mypy)
	if err != nil {
		return fail("mypy: %v", err)
	}
	issues := pycheck.ParseMypy(out.Text)
	if len(issues) > 0 {
		r := fail("mypy reported %d errors", len(issues))
		r.Issues, r.Output = issues, out.Text
		return r
	}
	if !out.OK() {
		r := fail("mypy exited with code %d", out.ExitCode)
		r.Output = out.Text
		return r
	}
	return pass()
}

func (v *Validator) pytest(ctx context.Context, cmd []string) Report {
	out, err := v.run(ctx, "", cmd)
	if err != nil {
		return fail("pytest: %v", err)
	}
	s := pycheck.ParsePytest(out.Text)
	if s.OK() {
		return pass()
	}
	var r Report
	switch {
	case out.TimedOut:
		r = fail("tests timed out")
	case !s.Found:
		r = fail("no pytest summary in output")
	case s.Passed == 0 && s.Failed == 0 && s.Errors == 0:
		r = fail("no tests passed")
	default:
		r = fail("%d passed, %d failed, %d errors", s.Passed, s.Failed, s.Errors)
	}
	r.Issues, r.Output = s.Failing, out.Text
	return r
}

// e2e requires an execution log written during the phase and a successful
// run of the main program, directly or with scripted input.
func (v *Validator) e2e(ctx context.Context, n int, since time.Time) Report {
	logs, stale := v.executionLogs(n, since)
	if len(logs) == 0 {
		if stale > 0 {
			return fail("no *e2e*.log or *evidence*.log in %s written during this attempt (%d older logs ignored)",
				v.rel(v.store.MilestoneDir(n)), stale)
		}
		return fail("no *e2e*.log or *evidence*.log in %s", v.rel(v.store.MilestoneDir(n)))
	}

	out, err := v.run(ctx, "", v.commands.Main)
	if err != nil {
		return fail("main program: %v", err)
	}
	if out.OK() {
		return pass(logs...)
	}

	if v.commands.SyntheticStdin != "" {
		scripted, err := v.run(ctx, v.commands.SyntheticStdin, v.commands.Main)
		if err == nil && scripted.OK() {
			return pass(logs...)
		}
		if err == nil {
			out = scripted
		}
	}
	r := fail("main program exited with code %d", out.ExitCode)
	if out.TimedOut {
		r = fail("main program timed out")
	}
	r.Output = out.Text
	return r
}

// executionLogs returns the milestone's execution logs modified at or after
// since, and how many older ones were skipped.
func (v *Validator) executionLogs(n int, since time.Time) ([]string, int) {
	var logs, seen []string
	stale := 0
	for _, pattern := range []string{"*e2e*.log", "*evidence*.log"} {
		matches, _ := filepath.Glob(filepath.Join(v.store.MilestoneDir(n), pattern))
		for _, m := range matches {
			if contains(seen, m) {
				continue
			}
			seen = append(seen, m)
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.ModTime().Before(since) {
				stale++
				continue
			}
			logs = append(logs, m)
		}
	}
	return logs, stale
}

func (v *Validator) commit(ctx context.Context, n int, since time.Time) Report {
	out, err := v.runner.Run(ctx, v.store.ProjectDir(), "", "git", "rev-parse", "HEAD")
	if err != nil {
		return fail("git: %v", err)
	}
	if !out.OK() {
		return fail("no commit found: %s", strings.TrimSpace(out.Text))
	}
	if r := v.evidenceFile(n, phase.Commit, since); !r.OK {
		return r
	}
	return pass(v.store.EvidencePath(n, string(phase.Commit)))
}

func (v *Validator) run(ctx context.Context, stdin string, cmd []string) (pycheck.Output, error) {
	if len(cmd) == 0 {
		return pycheck.Output{}, fmt.Errorf("command not configured")
	}
	return v.runner.Run(ctx, v.store.ProjectDir(), stdin, cmd...)
}

func (v *Validator) rel(path string) string {
	if rel, err := filepath.Rel(v.store.ProjectDir(), path); err == nil {
		return rel
	}
	return path
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
