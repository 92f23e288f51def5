package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/fileparallel"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/metrics"
	"github.com/thruflo/cc-automator/internal/orchestrator"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/recovery"
	"github.com/thruflo/cc-automator/internal/server"
	"github.com/thruflo/cc-automator/internal/state"
	"github.com/thruflo/cc-automator/internal/v4"
	"golang.org/x/term"
)

// boardTailLines is how many agent activity lines the board shows.
const boardTailLines = 6

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for every milestone in CLAUDE.md",
		Long: `Runs research, planning, implement, architecture, lint, typecheck, test,
integration, e2e, validate and commit for each milestone in ascending order.

State is kept in .cc_automator/ inside the project. Use --resume to skip
phases that completed in an earlier run and --milestone to run one milestone.

Example:
  cc-automator run --project ./calculator
  cc-automator run --project ./calculator --milestone 2 --resume
  CCA_MODEL=opus cc-automator run --v4 --explain`,
		Args: cobra.NoArgs,
		RunE: runPipeline,
	}
	addRunFlags(cmd.Flags())
	return cmd
}

// runDeps are the collaborators a run uses; zero values select the real
// implementations.
type runDeps struct {
	Agent    fileparallel.Agent
	Commands pycheck.CommandRunner
	Out      io.Writer
	Probe    v4.Probe
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	opts, err := resolveOptions(cmd)
	if err != nil {
		return err
	}
	_, err = execute(cmd.Context(), opts, runDeps{Out: cmd.OutOrStdout()})
	return err
}

// execute wires one run and returns its results.
func execute(ctx context.Context, opts config.Options, deps runDeps) (*state.Results, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(filepath.Join(opts.ProjectDir, orchestrator.SpecFile)); err != nil {
		return nil, fmt.Errorf("no %s in %s (run \"cc-automator init\" first): %w", orchestrator.SpecFile, opts.ProjectDir, err)
	}
	cfg, err := config.LoadConfig(opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Apply(opts)

	printer := newPrinter(deps.Out)
	var board *display.Board
	if opts.Visual {
		board = display.NewBoard(phaseNames(), boardTailLines, isTerminal(deps.Out))
	}

	ag := deps.Agent
	if ag == nil {
		runner := agent.NewRunner(agent.NewLocalExecutor(), cfg.Agent, cfg.Limits.CompletionGracePeriod)
		if board != nil {
			runner.OnEvent = func(ev *agent.StreamEvent) {
				if line := activity(ev); line != "" {
					board.Tail().Append(line)
				}
			}
		}
		ag = runner
	}
	commands := deps.Commands
	if commands == nil {
		commands = pycheck.NewExecRunner(cfg.Commands.Timeout)
	}

	store := state.NewStore(opts.ProjectDir)
	m := metrics.New()
	base := orchestrator.Options{
		Config:   cfg,
		Run:      opts,
		Store:    store,
		Agent:    ag,
		Commands: commands,
		Metrics:  m,
		Printer:  printer,
		Board:    board,
	}
	pl, err := orchestrator.New(base)
	if err != nil {
		return nil, err
	}
	if cfg.V4.Enabled {
		meta, err := newMetaOrchestrator(pl, base, deps)
		if err != nil {
			return nil, err
		}
		pl.SetMilestoneRunner(meta)
	}

	if opts.StatusAddr != "" {
		srv, err := server.NewServer(&server.Config{Addr: opts.StatusAddr, Progress: store, Metrics: m.Handler()})
		if err != nil {
			return nil, err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logging.Warn("status server stopped", "error", err)
			}
		}()
		defer func() { _ = srv.Stop() }()
	}

	results, runErr := pl.Run(ctx)
	report(printer, results, runErr)

	project := filepath.Base(opts.ProjectDir)
	if err := display.NewNotifier(deps.Out, opts.Visual).Notify(notificationReason(ctx, runErr), project); err != nil {
		logging.Debug("notification failed", "error", err)
	}
	return results, runErr
}

func newMetaOrchestrator(pl *orchestrator.Pipeline, base orchestrator.Options, deps runDeps) (*v4.MetaOrchestrator, error) {
	cfg := base.Config
	opts := v4.MetaOptions{
		Pipeline: pl,
		Config:   cfg,
		Run:      base.Run,
		Printer:  base.Printer,
	}
	if cfg.V4.Learning {
		ls, err := v4.OpenLearningStore(v4.LearningPath(base.Store.ProjectDir()))
		if err != nil {
			return nil, err
		}
		opts.Learning = ls
	}
	if cfg.V4.Parallel {
		explorer, err := v4.NewMultiExecutor(v4.MultiExecutorOptions{
			Store:  base.Store,
			Config: cfg,
			Run:    v4.PipelineBranches(base),
			Probe:  deps.Probe,
		})
		if err != nil {
			return nil, err
		}
		opts.Explorer = explorer
	}
	return v4.NewMetaOrchestrator(opts)
}

func newPrinter(out io.Writer) *display.Printer {
	if f, ok := out.(*os.File); ok {
		return display.NewPrinter(f)
	}
	return display.NewPlainPrinter(out)
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func phaseNames() []string {
	var names []string
	for _, t := range phase.Ordered() {
		names = append(names, string(t))
	}
	return names
}

// activity turns an agent stream event into a one-line board entry.
func activity(ev *agent.StreamEvent) string {
	if uses := ev.ToolUses(); len(uses) > 0 {
		return "🔧 " + uses[0].Name
	}
	if text := strings.TrimSpace(ev.Text()); text != "" {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		return "💬 " + display.Truncate(text, 80)
	}
	return ""
}

func report(p *display.Printer, results *state.Results, err error) {
	if results == nil {
		return
	}
	done := 0
	for _, mr := range results.Milestones {
		if mr.Status == config.RunStatusCompleted {
			done++
		}
	}
	if err == nil {
		p.Success("%d milestones completed in %s (%s)", done, display.FormatDuration(results.Duration), display.FormatCost(results.TotalCostUSD))
		return
	}
	p.Failure("run failed after %d completed milestones: %v", done, err)
}

func notificationReason(ctx context.Context, err error) display.NotificationReason {
	switch {
	case err == nil:
		return display.NotifyReasonDone
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return display.NotifyReasonInterrupted
	case errors.Is(err, recovery.ErrStagnated):
		return display.NotifyReasonStagnated
	case errors.Is(err, recovery.ErrStepBackBudget):
		return display.NotifyReasonStepBackBudget
	default:
		return display.NotifyReasonFailed
	}
}
