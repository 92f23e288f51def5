package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/evidence"
	"github.com/thruflo/cc-automator/internal/fileparallel"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/metrics"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/phasectx"
	"github.com/thruflo/cc-automator/internal/prompt"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/recovery"
	"github.com/thruflo/cc-automator/internal/state"
)

// analysisTurns bounds the read-only dependency analysis run.
const analysisTurns = 10

// maxArtifactBytes caps the prior-output excerpt handed to enhanced retries.
const maxArtifactBytes = 4000

var analysisTools = []string{"Read", "Glob", "Grep", "LS"}

// PhaseOutcome is the result of executing one phase, recovery included.
type PhaseOutcome struct {
	Phase    *phase.Phase
	Recovery recovery.Outcome
	// StepBack names the earlier phase to re-run, with FailureContext
	// to inject, when recovery traced the failure there.
	StepBack       phase.Type
	FailureContext string
	Attempts       int
	Err            error

	milestone int
}

// OK reports whether the phase completed.
func (o PhaseOutcome) OK() bool {
	return o.Phase != nil && o.Phase.Status == phase.StatusCompleted
}

// ExecuteOptions adjusts a single phase execution.
type ExecuteOptions struct {
	// FailureContext describes a later phase's failure being re-run after
	// a step-back.
	FailureContext string
	// StepBackTarget marks the phase the root cause was traced to; it gets
	// the step-back prompt instead of a plain failure context section.
	StepBackTarget bool
}

// PhaseRunnerOptions holds the dependencies of a PhaseRunner.
type PhaseRunnerOptions struct {
	Store    *state.Store
	Config   *config.Config
	Run      config.Options
	Agent    fileparallel.Agent
	Commands pycheck.CommandRunner
	Metrics  *metrics.Metrics
	Printer  *display.Printer
	Budget   *recovery.Budget
	History  *recovery.FailureHistory
	// Guidance is extra direction added to the planning and implement
	// context, used to steer exploration branches apart.
	Guidance string
}

// PhaseRunner executes phases: it renders the prompt, runs the agent (or the
// file-parallel fixer), validates the evidence and drives recovery. It
// implements recovery.Attempter and recovery.Analyst.
type PhaseRunner struct {
	store     *state.Store
	cfg       *config.Config
	run       config.Options
	agent     fileparallel.Agent
	validator *evidence.Validator
	context   *phasectx.Manager
	escalator *recovery.Escalator
	fixer     *fileparallel.Executor
	metrics   *metrics.Metrics
	printer   *display.Printer
	guidance  string
	log       *logging.Logger

	mu       sync.Mutex
	attempts map[string]int
	sessions map[string]string
}

// NewPhaseRunner creates a PhaseRunner.
func NewPhaseRunner(opts PhaseRunnerOptions) *PhaseRunner {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	budget := opts.Budget
	if budget == nil {
		budget = recovery.NewBudget(opts.Config.Limits.MaxStepBacks, opts.Run.Infinite)
	}
	r := &PhaseRunner{
		store:     opts.Store,
		cfg:       opts.Config,
		run:       opts.Run,
		agent:     opts.Agent,
		validator: evidence.NewValidator(opts.Store, opts.Commands, opts.Config),
		context:   phasectx.NewManager(opts.Store),
		metrics:   m,
		printer:   opts.Printer,
		guidance:  opts.Guidance,
		log:       logging.With("component", "orchestrator"),
		attempts:  make(map[string]int),
		sessions:  make(map[string]string),
	}
	r.escalator = recovery.NewEscalator(recovery.EscalatorOptions{
		Attempter:       r,
		Analyst:         r,
		History:         opts.History,
		Budget:          budget,
		StagnationLimit: opts.Config.Limits.StagnationLimit,
		OnEscalate:      r.onEscalate,
	})
	r.fixer = fileparallel.NewExecutor(fileparallel.Options{
		ProjectDir: opts.Store.ProjectDir(),
		Agent:      opts.Agent,
		Runner:     opts.Commands,
		Commands:   opts.Config.Commands,
		Limits:     opts.Config.Limits,
		Model:      opts.Config.ModelFor(string(phase.Lint)),
		Infinite:   opts.Run.Infinite,
		OnFile:     r.onFile,
	})
	return r
}

// Budget returns the step-back budget shared by all milestones.
func (r *PhaseRunner) Budget() *recovery.Budget {
	return r.escalator.Budget()
}

// Validator returns the evidence validator.
func (r *PhaseRunner) Validator() *evidence.Validator {
	return r.validator
}

// Metrics returns the metrics registry.
func (r *PhaseRunner) Metrics() *metrics.Metrics {
	return r.metrics
}

// newPhase builds the Phase record with config overrides applied.
func (r *PhaseRunner) newPhase(t phase.Type) *phase.Phase {
	p := phase.New(t)
	if r.cfg.Limits.PhaseTimeout > 0 {
		p.Timeout = r.cfg.Limits.PhaseTimeout
	}
	if o, ok := r.cfg.Phases[string(t)]; ok {
		if o.MaxTurns > 0 {
			p.MaxTurns = o.MaxTurns
		}
		if o.Timeout > 0 {
			p.Timeout = o.Timeout
		}
	}
	p.Model = r.cfg.ModelFor(string(t))
	return p
}

// SetGuidance replaces the direction added to planning and implement prompts.
func (r *PhaseRunner) SetGuidance(g string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guidance = g
}

// Guidance returns the current planning and implement direction.
func (r *PhaseRunner) Guidance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guidance
}

// Prompt renders the initial prompt for phase t of ms.
func (r *PhaseRunner) Prompt(ms milestone.Milestone, t phase.Type, opts ExecuteOptions) (string, error) {
	data := prompt.Data{
		ProjectDir:   r.store.ProjectDir(),
		Milestone:    ms,
		Phase:        t,
		Context:      r.context.Build(ms, t),
		EvidencePath: r.store.EvidencePath(ms.Number, string(t)),
		MarkerPath:   r.store.MarkerPath(ms.Number, string(t)),
		MilestoneDir: r.store.MilestoneDir(ms.Number),
		Commands:     r.cfg.Commands,
	}
	if g := r.Guidance(); g != "" && (t == phase.Planning || t == phase.Implement) {
		data.Context = strings.TrimSpace(data.Context + "\n\nApproach for this attempt:\n" + g)
	}
	if !opts.StepBackTarget {
		data.FailureContext = opts.FailureContext
	}
	base, err := prompt.Phase(data)
	if err != nil {
		return "", err
	}
	if opts.StepBackTarget && opts.FailureContext != "" {
		base = prompt.StepBack(base, opts.FailureContext)
	}
	return base, nil
}

// Execute runs phase t of milestone ms through the full attempt, validate,
// recover cycle.
func (r *PhaseRunner) Execute(ctx context.Context, ms milestone.Milestone, t phase.Type, opts ExecuteOptions) PhaseOutcome {
	log := r.log.WithFields(map[string]interface{}{"milestone": ms.Number, "phase": string(t)})
	p := r.newPhase(t)
	out := PhaseOutcome{Phase: p, milestone: ms.Number}
	start := time.Now()

	if err := p.Transition(phase.StatusRunning); err != nil {
		out.Err = err
		return out
	}
	if r.printer != nil {
		r.printer.PhaseStart(string(t), r.attemptCount(ms.Number, t)+1)
	}

	base, err := r.Prompt(ms, t, opts)
	if err != nil {
		return r.finish(out, phase.StatusFailed, start, err)
	}
	p.Prompt = base

	var res recovery.AttemptResult
	if r.run.FileParallel && phase.Lookup(t).FileParallel {
		res = r.fileParallel(ctx, ms.Number, t)
	} else {
		res = r.Attempt(ctx, recovery.AttemptRequest{
			Milestone: ms.Number,
			Phase:     t,
			Prompt:    base,
			MaxTurns:  p.MaxTurns,
			Level:     recovery.LevelInitial,
		})
	}
	out.Attempts = 1
	p.CostUSD += res.CostUSD

	if res.OK {
		return r.complete(out, ms.Number, start)
	}
	if ctx.Err() != nil {
		return r.finish(out, phase.StatusFailed, start, ctx.Err())
	}

	log.Info("phase failed validation, escalating", "feedback", firstLine(res.Feedback), "class", res.Class.String())
	rec := r.escalator.Recover(ctx, recovery.Failure{
		Milestone:  ms.Number,
		Phase:      t,
		BasePrompt: base,
		MaxTurns:   p.MaxTurns,
		Feedback:   res.Feedback,
		Issues:     res.Issues,
		Artifacts:  res.Artifacts,
		Attempt:    1,
		Class:      res.Class,
	})
	out.Recovery = rec
	out.Attempts += rec.Attempts
	p.CostUSD += rec.CostUSD
	p.Attempt = out.Attempts

	switch {
	case rec.Recovered:
		return r.complete(out, ms.Number, start)
	case rec.StepBack != "":
		out.StepBack = rec.StepBack
		out.FailureContext = rec.FailureContext
		err := fmt.Errorf("phase %s failed; root cause traced to %s", t, rec.StepBack)
		return r.finish(out, phase.StatusFailed, start, err)
	}

	last := res.Class
	if rec.Attempts > 0 {
		last = rec.Class
	}
	status := phase.StatusFailed
	if last == agent.ClassTimeout {
		status = phase.StatusTimeout
	}
	err = rec.Err
	if err == nil {
		err = fmt.Errorf("phase %s failed: %s", t, firstLine(rec.Feedback))
	}
	return r.finish(out, status, start, err)
}

func (r *PhaseRunner) complete(out PhaseOutcome, n int, start time.Time) PhaseOutcome {
	if path := r.store.EvidencePath(n, string(out.Phase.Type)); fileExists(path) {
		out.Phase.Evidence = []string{path}
	}
	out = r.finish(out, phase.StatusCompleted, start, nil)
	cp := state.Checkpoint{
		Milestone: n,
		Phase:     string(out.Phase.Type),
		Status:    string(phase.StatusCompleted),
		SessionID: out.Phase.SessionID,
		CostUSD:   out.Phase.CostUSD,
		Evidence:  out.Phase.Evidence,
	}
	if err := r.store.SaveCheckpoint(cp); err != nil {
		r.log.Warn("failed to save checkpoint", "phase", string(out.Phase.Type), "error", err)
	}
	return out
}

func (r *PhaseRunner) finish(out PhaseOutcome, status phase.Status, start time.Time, err error) PhaseOutcome {
	p := out.Phase
	if terr := p.Transition(status); terr != nil {
		r.log.Warn("unexpected phase transition", "error", terr)
	}
	p.Duration = time.Since(start)
	out.Err = err
	if err != nil {
		p.Error = err.Error()
	}
	p.SessionID = r.lastSession(out.milestone, p.Type)
	r.metrics.ObservePhase(string(p.Type), string(status), p.Duration)
	if r.printer != nil {
		r.printer.PhaseDone(string(p.Type), string(status), p.CostUSD, p.Duration)
	}
	return out
}

// Attempt runs and validates one agent attempt. It implements
// recovery.Attempter.
func (r *PhaseRunner) Attempt(ctx context.Context, req recovery.AttemptRequest) recovery.AttemptResult {
	n, t := req.Milestone, req.Phase
	p := r.newPhase(t)
	if req.MaxTurns > 0 {
		p.MaxTurns = req.MaxTurns
	}
	attempt := r.nextAttempt(n, t)
	started := time.Now()

	if err := r.store.PrepareMilestone(n, string(t)); err != nil {
		return recovery.AttemptResult{Feedback: err.Error(), Class: agent.ClassExecution}
	}

	agentReq := agent.Request{
		Prompt:         req.Prompt,
		Dir:            r.store.ProjectDir(),
		MaxTurns:       p.MaxTurns,
		Model:          p.Model,
		AllowedTools:   p.AllowedTools,
		Timeout:        p.Timeout,
		TranscriptPath: r.store.PhaseOutputPath(n, string(t), attempt),
		MarkerPath:     r.store.MarkerPath(n, string(t)),
	}
	if phase.Lookup(t).RequiresArtifact {
		agentReq.ArtifactPath = r.store.EvidencePath(n, string(t))
	}

	res := r.agent.Run(ctx, agentReq)
	r.recordSession(n, t, attempt, started, res)

	out := recovery.AttemptResult{Class: res.Class, CostUSD: res.CostUSD}
	if !res.OK() {
		out.Feedback = fmt.Sprintf("The agent run ended with status %s: %s", res.Status, res.Error())
		out.Artifacts = r.artifacts(n, t)
		return out
	}

	report := r.validator.ValidateSince(ctx, n, t, started)
	if report.OK {
		out.OK = true
		return out
	}
	out.Feedback = feedback(report)
	out.Issues = report.Issues
	out.Artifacts = r.artifacts(n, t)
	return out
}

// Analyze runs a read-only dependency analysis. It implements
// recovery.Analyst.
func (r *PhaseRunner) Analyze(ctx context.Context, n int, t phase.Type, p string) (string, error) {
	attempt := r.nextAttempt(n, t)
	started := time.Now()
	res := r.agent.Run(ctx, agent.Request{
		Prompt:         p,
		Dir:            r.store.ProjectDir(),
		MaxTurns:       analysisTurns,
		Model:          r.cfg.ModelFor(string(t)),
		AllowedTools:   analysisTools,
		Timeout:        r.newPhase(t).Timeout,
		TranscriptPath: r.store.PhaseOutputPath(n, string(t)+"_analysis", attempt),
	})
	r.recordSession(n, t, attempt, started, res)
	if !res.OK() {
		return "", fmt.Errorf("dependency analysis failed: %w", errOr(res.Err))
	}
	return res.Text, nil
}

// fileParallel runs the per-file fixer for lint or typecheck and validates
// the result like any other attempt.
func (r *PhaseRunner) fileParallel(ctx context.Context, n int, t phase.Type) recovery.AttemptResult {
	kind := fileparallel.Flake8
	if t == phase.Typecheck {
		kind = fileparallel.Mypy
	}
	r.nextAttempt(n, t)
	rep, err := r.fixer.Run(ctx, kind)
	r.metrics.AddCost(rep.CostUSD)
	out := recovery.AttemptResult{CostUSD: rep.CostUSD}
	if err != nil {
		out.Feedback = fmt.Sprintf("file-parallel %s run failed: %v", kind, err)
		out.Class = agent.ClassExecution
		out.Issues = rep.Remaining
		return out
	}

	report := r.validator.Validate(ctx, n, t)
	if report.OK {
		out.OK = true
		return out
	}
	out.Feedback = feedback(report)
	if rep.Stagnated {
		out.Feedback += "\nThe per-file fixer stopped because the remaining errors did not change between rounds."
	}
	out.Issues = report.Issues
	return out
}

func (r *PhaseRunner) onEscalate(f recovery.Failure, level recovery.Level) {
	r.metrics.ObserveRetry(string(f.Phase), level.String())
	if r.printer != nil {
		if level == recovery.LevelDependency {
			r.printer.Info("%s: analyzing whether an earlier phase caused the failure", f.Phase)
			return
		}
		r.printer.Retry(string(f.Phase), level.String(), f.Attempt+1)
	}
}

func (r *PhaseRunner) onFile(kind fileparallel.Kind, res fileparallel.FileResult) {
	r.metrics.ObserveFileFix(string(kind), res.OK)
	if r.printer != nil {
		r.printer.FileFix(string(kind), res.File, res.OK, res.Errors)
	}
}

func (r *PhaseRunner) recordSession(n int, t phase.Type, attempt int, started time.Time, res agent.Result) {
	r.metrics.AddCost(res.CostUSD)
	if res.SessionID != "" {
		r.mu.Lock()
		r.sessions[key(n, t)] = res.SessionID
		r.mu.Unlock()
	}
	err := r.store.AppendSession(state.Session{
		SessionID: res.SessionID,
		Milestone: n,
		Phase:     string(t),
		Attempt:   attempt,
		Status:    string(res.Status),
		CostUSD:   res.CostUSD,
		Duration:  res.Duration,
		NumTurns:  res.NumTurns,
		StartedAt: started,
	})
	if err != nil {
		r.log.Warn("failed to record session", "error", err)
	}
}

// lastSession returns the most recent session id recorded for phase t.
func (r *PhaseRunner) lastSession(n int, t phase.Type) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key(n, t)]
}

// artifacts returns an excerpt of what the phase has produced so far.
func (r *PhaseRunner) artifacts(n int, t phase.Type) string {
	var b strings.Builder
	for _, prior := range []phase.Type{phase.Research, phase.Planning, t} {
		text, err := r.store.ReadEvidence(n, string(prior))
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", prior, truncate(strings.TrimSpace(text), maxArtifactBytes/3))
		if prior == t {
			break
		}
	}
	return b.String()
}

func (r *PhaseRunner) nextAttempt(n int, t phase.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key(n, t)]++
	return r.attempts[key(n, t)]
}

func (r *PhaseRunner) attemptCount(n int, t phase.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[key(n, t)]
}

func key(n int, t phase.Type) string {
	return fmt.Sprintf("%d/%s", n, t)
}

// feedback turns a failed evidence report into the text handed to retries.
func feedback(rep evidence.Report) string {
	var b strings.Builder
	b.WriteString(rep.Reason)
	for i, is := range rep.Issues {
		if i == 30 {
			fmt.Fprintf(&b, "\n- ... and %d more", len(rep.Issues)-30)
			break
		}
		fmt.Fprintf(&b, "\n- %s", is)
	}
	if out := strings.TrimSpace(rep.Output); out != "" && len(rep.Issues) == 0 {
		b.WriteString("\n\nOutput:\n")
		b.WriteString(tail(out, 2000))
	}
	return b.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func errOr(err error) error {
	if err == nil {
		return errors.New("no result")
	}
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...\n" + s[len(s)-n:]
}
