// Package display prints the emoji-prefixed status lines and the visual
// progress board shown while a pipeline runs.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Printer writes status lines. It is safe for concurrent use since lint and
// typecheck may report at the same time.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// NewPrinter creates a Printer for f, styling output only when f is a terminal.
func NewPrinter(f *os.File) *Printer {
	return &Printer{out: f, color: term.IsTerminal(int(f.Fd()))}
}

// NewPlainPrinter creates a Printer that never emits ANSI codes.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: w}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p *Printer) line(emoji string, style lipgloss.Style, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", emoji, p.render(style, msg))
}

// Banner prints the run header.
func (p *Printer) Banner(project string, milestones int) {
	p.line("🤖", Heading, "cc-automator: %s (%d milestones)", project, milestones)
}

// Milestone announces the start of a milestone.
func (p *Printer) Milestone(n int, name string) {
	p.mu.Lock()
	fmt.Fprintln(p.out)
	p.mu.Unlock()
	p.line("📋", Heading, "Milestone %d: %s", n, name)
}

// PhaseStart announces a phase.
func (p *Printer) PhaseStart(phase string, attempt int) {
	if attempt > 1 {
		p.line("🔄", Active, "%s (attempt %d)", phase, attempt)
		return
	}
	p.line("🔄", Active, "%s", phase)
}

// PhaseDone reports a finished phase with its cost and duration.
func (p *Printer) PhaseDone(phase, status string, cost float64, d time.Duration) {
	p.line(StatusEmoji(status), StatusStyle(status), "%s %s (%s, %s)", phase, status, FormatDuration(d), FormatCost(cost))
}

// PhaseSkipped reports a phase skipped on resume.
func (p *Printer) PhaseSkipped(phase, reason string) {
	p.line(StatusEmoji("skipped"), Muted, "%s skipped: %s", phase, reason)
}

// Retry reports a recovery attempt.
func (p *Printer) Retry(phase, level string, attempt int) {
	p.line("🔁", Warning, "%s: %s retry (attempt %d)", phase, level, attempt)
}

// StepBack reports a step-back from one phase to an earlier one.
func (p *Printer) StepBack(from, to string, used, max int) {
	if max > 0 {
		p.line("⏪", Warning, "stepping back from %s to %s (%d/%d)", from, to, used, max)
		return
	}
	p.line("⏪", Warning, "stepping back from %s to %s (%d)", from, to, used)
}

// FileFix reports one file-parallel fix result.
func (p *Printer) FileFix(kind, file string, ok bool, remaining int) {
	if ok {
		p.line("🔧", Success, "%s: %s fixed", kind, file)
		return
	}
	p.line("🔧", Warning, "%s: %s still has %d issue(s)", kind, file, remaining)
}

// Info prints a neutral message.
func (p *Printer) Info(format string, args ...any) {
	p.line("ℹ️", Muted, format, args...)
}

// Warn prints a warning.
func (p *Printer) Warn(format string, args ...any) {
	p.line("⚠️", Warning, format, args...)
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...any) {
	p.line("🎉", Success.Bold(true), format, args...)
}

// Failure prints a failure message.
func (p *Printer) Failure(format string, args ...any) {
	p.line("💥", Error.Bold(true), format, args...)
}

// Block prints a pre-rendered multi-line block, such as the progress board.
func (p *Printer) Block(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, strings.TrimRight(s, "\n"))
}
