// Package fileparallel fixes lint and type errors by grouping them per file
// and running one bounded agent invocation per file, concurrently, for a
// number of rounds.
package fileparallel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/agent"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/prompt"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/recovery"
	"golang.org/x/sync/errgroup"
)

// Kind selects the checker.
type Kind string

const (
	Flake8 Kind = "flake8"
	Mypy   Kind = "mypy"
)

// fileFixTurns bounds each per-file agent run.
const fileFixTurns = 15

var fileFixTools = []string{"Read", "Edit", "MultiEdit", "Write"}

// Agent runs one agent request. *agent.Runner implements it.
type Agent interface {
	Run(ctx context.Context, req agent.Request) agent.Result
}

// FileResult is the outcome of fixing one file in one round.
type FileResult struct {
	File    string
	Round   int
	Errors  int
	OK      bool
	CostUSD float64
	Err     error
}

// Report summarizes a file-parallel run.
type Report struct {
	Kind       Kind
	OK         bool
	Rounds     int
	Initial    int
	Remaining  []pycheck.Issue
	FilesFixed int
	Stagnated  bool
	CostUSD    float64
}

// Options configures an Executor.
type Options struct {
	ProjectDir string
	Agent      Agent
	Runner     pycheck.CommandRunner
	Commands   config.Commands
	Limits     config.Limits
	Model      string
	Infinite   bool
	// OnFile observes every per-file result.
	OnFile func(Kind, FileResult)
}

// Executor runs the check, fix, re-check cycle.
type Executor struct {
	opts Options
	log  *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.Limits.FileWorkers <= 0 {
		opts.Limits.FileWorkers = config.DefaultFileWorkers
	}
	if opts.Limits.MaxFixIterations <= 0 {
		opts.Limits.MaxFixIterations = config.DefaultMaxFixIterations
	}
	if opts.Limits.FileFixTimeout <= 0 {
		opts.Limits.FileFixTimeout = config.DefaultFileFixTimeout
	}
	return &Executor{opts: opts, log: logging.With("component", "fileparallel")}
}

// Check runs the checker once and returns the parsed issues.
func (e *Executor) Check(ctx context.Context, kind Kind) ([]pycheck.Issue, error) {
	cmd := e.opts.Commands.Flake8
	parse := pycheck.ParseFlake8
	if kind == Mypy {
		cmd = e.opts.Commands.Mypy
		parse = pycheck.ParseMypy
	}
	if len(cmd) == 0 {
		return nil, fmt.Errorf("%s command not configured", kind)
	}
	out, err := e.opts.Runner.Run(ctx, e.opts.ProjectDir, "", cmd...)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", kind, err)
	}
	if out.TimedOut {
		return nil, fmt.Errorf("%s timed out", kind)
	}
	return parse(out.Text), nil
}

// Run fixes all issues of kind. Rounds are bounded by max_fix_iterations
// unless infinite mode is on; mypy runs also stop when the per-file error
// counts repeat, and infinite runs stop when the issue set stagnates.
func (e *Executor) Run(ctx context.Context, kind Kind) (Report, error) {
	report := Report{Kind: kind}
	attempts := make(map[string]int)
	var countSigs []string
	global := recovery.NewStagnationTracker(e.opts.Limits.StagnationLimit)

	for round := 1; ; round++ {
		issues, err := e.Check(ctx, kind)
		if err != nil {
			return report, err
		}
		if round == 1 {
			report.Initial = len(issues)
		}
		report.Remaining = issues
		if len(issues) == 0 {
			report.OK = true
			return report, nil
		}
		if !e.opts.Infinite && round > e.opts.Limits.MaxFixIterations {
			return report, nil
		}

		groups := pycheck.GroupByFile(issues)
		if kind == Mypy {
			countSigs = append(countSigs, countSignature(groups))
			if recovery.DetectStuck(countSigs, e.opts.Limits.MypyStagnationLimit) {
				e.log.Warn("mypy errors not decreasing, stopping", "round", round, "errors", len(issues))
				report.Stagnated = true
				return report, nil
			}
		}
		if e.opts.Infinite && global.Observe(recovery.Signature(issues)) {
			report.Stagnated = true
			return report, nil
		}

		e.log.Info("fixing files in parallel", "kind", string(kind), "round", round, "files", len(groups), "errors", len(issues))
		results, err := e.fixAll(ctx, kind, round, groups, attempts)
		report.Rounds = round
		for _, r := range results {
			report.CostUSD += r.CostUSD
			if r.OK {
				report.FilesFixed++
			}
		}
		if err != nil {
			return report, err
		}
	}
}

func (e *Executor) fixAll(ctx context.Context, kind Kind, round int, groups map[string][]pycheck.Issue, attempts map[string]int) ([]FileResult, error) {
	files := pycheck.Files(groups)
	for _, f := range files {
		attempts[f]++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Limits.FileWorkers)

	var mu sync.Mutex
	results := make([]FileResult, 0, len(files))
	for _, file := range files {
		file, errs, attempt := file, groups[file], attempts[file]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			r := e.fixFile(gctx, kind, file, errs, attempt)
			r.Round = round
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			if e.opts.OnFile != nil {
				e.opts.OnFile(kind, r)
			}
			return nil
		})
	}
	err := g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

func (e *Executor) fixFile(ctx context.Context, kind Kind, file string, errs []pycheck.Issue, attempt int) FileResult {
	res := FileResult{File: file, Errors: len(errs)}
	content, err := os.ReadFile(filepath.Join(e.opts.ProjectDir, file))
	if err != nil {
		res.Err = fmt.Errorf("failed to read %s: %w", file, err)
		return res
	}

	start := time.Now()
	out := e.opts.Agent.Run(ctx, agent.Request{
		Prompt:       prompt.FileFix(string(kind), file, string(content), errs, attempt),
		Dir:          e.opts.ProjectDir,
		MaxTurns:     fileFixTurns,
		Model:        e.opts.Model,
		AllowedTools: fileFixTools,
		Timeout:      e.opts.Limits.FileFixTimeout,
	})
	res.OK = out.OK()
	res.CostUSD = out.CostUSD
	res.Err = out.Err
	e.log.Debug("file fix finished", "file", file, "ok", res.OK, "errors", len(errs), "elapsed", time.Since(start))
	return res
}

// countSignature is the sorted (file, error count) list.
func countSignature(groups map[string][]pycheck.Issue) string {
	var b strings.Builder
	for _, f := range pycheck.Files(groups) {
		fmt.Fprintf(&b, "%s=%d;", f, len(groups[f]))
	}
	return b.String()
}
