package v4

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/otiai10/copy"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/pycheck"
	"github.com/thruflo/cc-automator/internal/state"
	"golang.org/x/sync/semaphore"
)

// ErrNoViableBranch is returned when every exploration branch failed.
var ErrNoViableBranch = errors.New("no exploration branch succeeded")

// Score weights.
const (
	WeightEvidence     = 0.4
	WeightTests        = 0.3
	WeightArchitecture = 0.2
	WeightResources    = 0.1
)

// Variant is one direction explored by a branch.
type Variant struct {
	Name     string
	Guidance string
}

var defaultVariants = []Variant{
	{Name: "minimal", Guidance: "Favour the simplest design that satisfies every success criterion. Keep the number of modules small."},
	{Name: "modular", Guidance: "Favour small modules with clear interfaces, one responsibility each, and thorough unit tests."},
	{Name: "robust", Guidance: "Favour defensive input handling, explicit error messages and integration tests for every user-facing path."},
}

// Variants returns n variants, cycling through the built-in directions.
func Variants(n int) []Variant {
	if n <= 0 {
		n = config.DefaultV4Variants
	}
	out := make([]Variant, n)
	for i := range out {
		v := defaultVariants[i%len(defaultVariants)]
		if i >= len(defaultVariants) {
			v.Name = fmt.Sprintf("%s_%d", v.Name, i/len(defaultVariants)+1)
		}
		out[i] = v
	}
	return out
}

// BranchPhases are the phases a branch runs; validation and commit happen
// once in the real project after promotion.
func BranchPhases() []phase.Type {
	var out []phase.Type
	for _, t := range phase.Ordered() {
		if t.Before(phase.Validate) {
			out = append(out, t)
		}
	}
	return out
}

// Branch is one exploration run in its own copy of the project.
type Branch struct {
	Index   int
	Variant Variant
	Dir     string
	Store   *state.Store
}

// BranchFunc runs a milestone inside a branch.
type BranchFunc func(ctx context.Context, b Branch, ms milestone.Milestone) (state.MilestoneResult, error)

// BranchResult is the scored outcome of a branch.
type BranchResult struct {
	Branch    Branch
	Result    state.MilestoneResult
	Err       error
	Duration  time.Duration
	Resources ResourceStats
	Score     Score
}

// Score breaks down a branch's weighted score.
type Score struct {
	Evidence     float64
	Tests        float64
	Architecture float64
	Resources    float64
	Total        float64
}

// Exploration is the outcome of MultiExecutor.Explore.
type Exploration struct {
	Branches []BranchResult
	Winner   *BranchResult
}

// MultiExecutorOptions configures a MultiExecutor.
type MultiExecutorOptions struct {
	Store  *state.Store
	Config *config.Config
	Run    BranchFunc
	Probe  Probe
	// WorkRoot holds branch copies; defaults to the system temp dir.
	WorkRoot       string
	SampleInterval time.Duration
	// KeepBranches leaves branch directories on disk for inspection.
	KeepBranches bool
}

// MultiExecutor runs variants of a milestone concurrently and promotes the
// best one.
type MultiExecutor struct {
	store    *state.Store
	run      BranchFunc
	probe    Probe
	workers  int64
	timeout  time.Duration
	workRoot string
	interval time.Duration
	keep     bool
	arch     pycheck.ArchitectureLimits
	log      *logging.Logger
}

// NewMultiExecutor creates a MultiExecutor.
func NewMultiExecutor(opts MultiExecutorOptions) (*MultiExecutor, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Run == nil {
		return nil, errors.New("branch runner is required")
	}
	if opts.Probe == nil {
		opts.Probe = SystemProbe{}
	}
	workers := opts.Config.Limits.StrategyWorkers
	if workers <= 0 {
		workers = config.DefaultStrategyWorkers
	}
	timeout := opts.Config.Limits.ParallelBatchTimeout
	if timeout <= 0 {
		timeout = config.DefaultParallelBatchTimeout
	}
	return &MultiExecutor{
		store:    opts.Store,
		run:      opts.Run,
		probe:    opts.Probe,
		workers:  int64(workers),
		timeout:  timeout,
		workRoot: opts.WorkRoot,
		interval: opts.SampleInterval,
		keep:     opts.KeepBranches,
		arch:     pycheck.DefaultArchitectureLimits(),
		log:      logging.With("component", "multi_executor"),
	}, nil
}

// Explore runs one branch per variant, at most StrategyWorkers at a time and
// within the batch timeout, scores them and copies the winner's tree back
// into the project.
func (e *MultiExecutor) Explore(ctx context.Context, ms milestone.Milestone, variants []Variant) (*Exploration, error) {
	if len(variants) == 0 {
		return nil, errors.New("no variants to explore")
	}
	root, err := os.MkdirTemp(e.workRoot, "cca-explore-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create exploration directory: %w", err)
	}
	if !e.keep {
		defer os.RemoveAll(root)
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	sem := semaphore.NewWeighted(e.workers)
	results := make([]BranchResult, len(variants))
	var wg sync.WaitGroup
	for i, v := range variants {
		b := Branch{Index: i, Variant: v, Dir: filepath.Join(root, fmt.Sprintf("branch_%d_%s", i, v.Name))}
		if err := sem.Acquire(batchCtx, 1); err != nil {
			results[i] = BranchResult{Branch: b, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, b Branch) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.runBranch(batchCtx, ms, b)
		}(i, b)
	}
	wg.Wait()

	ex := &Exploration{Branches: results}
	ex.Winner = pickWinner(results)
	if ex.Winner == nil {
		if ctx.Err() != nil {
			return ex, ctx.Err()
		}
		return ex, fmt.Errorf("%w: %w", ErrNoViableBranch, firstBranchErr(results))
	}
	e.log.Info("exploration winner", "milestone", ms.Number, "variant", ex.Winner.Branch.Variant.Name, "score", ex.Winner.Score.Total)

	if err := e.promote(ms, ex.Winner.Branch); err != nil {
		return ex, err
	}
	return ex, nil
}

func (e *MultiExecutor) runBranch(ctx context.Context, ms milestone.Milestone, b Branch) BranchResult {
	log := e.log.WithFields(map[string]interface{}{"milestone": ms.Number, "variant": b.Variant.Name})
	res := BranchResult{Branch: b}

	if err := copy.Copy(e.store.ProjectDir(), b.Dir, copy.Options{Skip: skipState}); err != nil {
		res.Err = fmt.Errorf("failed to copy project: %w", err)
		return res
	}
	b.Store = state.NewStore(b.Dir)
	if err := b.Store.EnsureLayout(); err != nil {
		res.Err = err
		return res
	}
	res.Branch = b

	sampleCtx, stop := context.WithCancel(ctx)
	sampler := NewSampler(e.probe, e.store, fmt.Sprintf("milestone_%d/%s", ms.Number, b.Variant.Name), e.interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sampler.Run(sampleCtx)
	}()

	log.Info("branch started", "dir", b.Dir)
	start := time.Now()
	res.Result, res.Err = e.run(ctx, b, ms)
	res.Duration = time.Since(start)
	stop()
	<-done

	res.Resources = sampler.Stats()
	res.Score = e.score(b, res)
	log.Info("branch finished", "duration", res.Duration, "score", res.Score.Total, "error", res.Err)
	return res
}

// score weights evidence completeness, test phases passed, architecture
// violations and resource use.
func (e *MultiExecutor) score(b Branch, res BranchResult) Score {
	var s Score

	phases := BranchPhases()
	present := 0
	for _, t := range phases {
		if fileExists(b.Store.EvidencePath(res.Result.Number, string(t))) {
			present++
		}
	}
	s.Evidence = float64(present) / float64(len(phases))

	testPhases := []phase.Type{phase.Test, phase.Integration, phase.E2E}
	passed := 0
	for _, pr := range res.Result.Phases {
		for _, t := range testPhases {
			if pr.Phase == string(t) && pr.Status == string(phase.StatusCompleted) {
				passed++
			}
		}
	}
	s.Tests = float64(passed) / float64(len(testPhases))

	issues, err := pycheck.CheckArchitecture(b.Dir, e.arch)
	if err == nil {
		s.Architecture = 1 - clamp01(float64(len(issues))/10)
	}

	s.Resources = res.Resources.Efficiency()
	s.Total = WeightEvidence*s.Evidence + WeightTests*s.Tests + WeightArchitecture*s.Architecture + WeightResources*s.Resources
	return s
}

// promote copies the branch's source tree and milestone evidence into the
// project.
func (e *MultiExecutor) promote(ms milestone.Milestone, b Branch) error {
	if err := copy.Copy(b.Dir, e.store.ProjectDir(), copy.Options{Skip: skipState}); err != nil {
		return fmt.Errorf("failed to promote branch %s: %w", b.Variant.Name, err)
	}
	src := b.Store.MilestoneDir(ms.Number)
	if !fileExists(src) {
		return nil
	}
	if err := copy.Copy(src, e.store.MilestoneDir(ms.Number)); err != nil {
		return fmt.Errorf("failed to promote evidence of branch %s: %w", b.Variant.Name, err)
	}
	return nil
}

// pickWinner returns the highest scoring successful branch; ties go to the
// earlier variant.
func pickWinner(results []BranchResult) *BranchResult {
	var ok []int
	for i := range results {
		if results[i].Err == nil {
			ok = append(ok, i)
		}
	}
	if len(ok) == 0 {
		return nil
	}
	sort.SliceStable(ok, func(a, b int) bool {
		return results[ok[a]].Score.Total > results[ok[b]].Score.Total
	})
	return &results[ok[0]]
}

func firstBranchErr(results []BranchResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return errors.New("no branches ran")
}

// skipState leaves the state directory and git metadata out of copies.
func skipState(info os.FileInfo, src, _ string) (bool, error) {
	if !info.IsDir() {
		return false, nil
	}
	name := filepath.Base(src)
	return name == config.DirName || name == ".git", nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
