// Package prompt renders the agent instructions for each phase and the
// escalating retry prompts used by recovery.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("prompts").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"),
)

// Data is the input to a phase prompt.
type Data struct {
	ProjectDir     string
	Milestone      milestone.Milestone
	Phase          phase.Type
	Context        string
	EvidencePath   string
	MarkerPath     string
	MilestoneDir   string
	Commands       config.Commands
	FailureContext string
}

// Phase renders the prompt for a phase: the phase template, any context and
// failure context, and the evidence requirements.
func Phase(d Data) (string, error) {
	var b strings.Builder
	if err := render(&b, string(d.Phase)+".tmpl", d); err != nil {
		return "", err
	}
	if d.Context != "" {
		b.WriteString("\n## Context\n\n")
		b.WriteString(strings.TrimSpace(d.Context))
		b.WriteString("\n")
	}
	if d.FailureContext != "" {
		b.WriteString("\n## Failure context\n\n")
		b.WriteString(strings.TrimSpace(d.FailureContext))
		b.WriteString("\n")
	}
	if err := render(&b, "evidence.tmpl", d); err != nil {
		return "", err
	}
	return b.String(), nil
}

func render(b *strings.Builder, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	b.Write(buf.Bytes())
	return nil
}

// mustRender renders a retry template. These templates only touch the
// fields of their own data structs, so a failure is a programming error.
func mustRender(name string, data interface{}) string {
	var b strings.Builder
	if err := render(&b, name, data); err != nil {
		panic(err)
	}
	return b.String()
}

// Targeted is the level-1 retry: the original prompt plus the exact
// validation feedback.
func Targeted(base, feedback string) string {
	return mustRender("targeted.tmpl", struct{ Base, Feedback string }{base, feedback})
}

// Enhanced is the level-2 retry: feedback plus what earlier attempts
// produced, with an instruction to change approach.
func Enhanced(base, feedback, artifacts string) string {
	return mustRender("enhanced.tmpl", struct{ Base, Feedback, Artifacts string }{base, feedback, artifacts})
}

// DependencyAnalysis asks whether the failure of t originates in an earlier
// phase. The reply is parsed by recovery.ParseDependencyAnswer.
func DependencyAnalysis(t phase.Type, feedback, history string) string {
	var earlier []string
	for _, p := range phase.Between(phase.Research, t) {
		earlier = append(earlier, string(p))
	}
	return mustRender("dependency.tmpl", struct {
		Phase             phase.Type
		Feedback, History string
		Earlier           []string
	}{t, feedback, history, earlier})
}

// FinalFix is the last "just fix it" attempt after dependency analysis
// found no earlier cause.
func FinalFix(base, feedback string) string {
	return mustRender("finalfix.tmpl", struct{ Base, Feedback string }{base, feedback})
}

// StepBack is the prompt for re-running an earlier phase with the failure
// context of the phase that triggered the step-back.
func StepBack(base, failureContext string) string {
	return mustRender("stepback.tmpl", struct{ Base, FailureContext string }{base, failureContext})
}

// FileFix is the per-file prompt used by the file-parallel fixer.
func FileFix(tool, file, content string, errs []pycheck.Issue, attempt int) string {
	return mustRender("filefix.tmpl", struct {
		Tool, File, Content string
		Errors              []pycheck.Issue
		Attempt             int
	}{tool, file, content, errs, attempt})
}
