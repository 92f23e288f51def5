package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/phase"
)

// Request describes one agent invocation.
type Request struct {
	Prompt       string
	Dir          string
	MaxTurns     int
	Model        string
	AllowedTools []string
	Timeout      time.Duration

	// TranscriptPath receives the raw stream-json output when set.
	TranscriptPath string
	// MarkerPath is the completion marker the agent creates when done.
	MarkerPath string
	// ArtifactPath is the file whose existence turns an
	// error_during_execution result into a success.
	ArtifactPath string
}

// Result is the typed outcome of an agent run.
type Result struct {
	Status     phase.Status
	Class      ErrorClass
	SessionID  string
	CostUSD    float64
	Duration   time.Duration
	NumTurns   int
	Text       string
	Err        error
	MarkerSeen bool
	Retried    bool
}

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// OK reports whether the run completed.
func (r Result) OK() bool {
	return r.Status == phase.StatusCompleted
}

// Runner runs the agent CLI and classifies the outcome.
type Runner struct {
	Executor    Executor
	Binary      string
	ExtraArgs   []string
	GracePeriod time.Duration
	// OnEvent, when set, observes every parsed stream event.
	OnEvent func(*StreamEvent)

	log *logging.Logger
}

// NewRunner creates a Runner from agent config.
func NewRunner(exec Executor, cfg config.Agent, grace time.Duration) *Runner {
	binary := cfg.Binary
	if binary == "" {
		binary = config.DefaultAgentBinary
	}
	return &Runner{
		Executor:    exec,
		Binary:      binary,
		ExtraArgs:   cfg.ExtraArgs,
		GracePeriod: grace,
		log:         logging.With("component", "agent"),
	}
}

// BuildArgs returns the agent command line for a request.
func (r *Runner) BuildArgs(req Request) []string {
	args := []string{
		r.Binary,
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return append(args, r.ExtraArgs...)
}

// Run executes the request. Network and authentication failures are retried
// once before the result is returned.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	res := r.runOnce(ctx, req)
	if res.Class.Retryable() && ctx.Err() == nil {
		r.logger().Warn("retrying agent after transient failure", "class", res.Class.String(), "error", res.Err)
		cost := res.CostUSD
		res = r.runOnce(ctx, req)
		res.CostUSD += cost
		res.Retried = true
	}
	return res
}

func (r *Runner) logger() *logging.Logger {
	if r.log == nil {
		r.log = logging.With("component", "agent")
	}
	return r.log
}

func (r *Runner) runOnce(ctx context.Context, req Request) Result {
	start := time.Now()

	phaseCtx := ctx
	var cancelTimeout context.CancelFunc = func() {}
	if req.Timeout > 0 {
		phaseCtx, cancelTimeout = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancelTimeout()
	runCtx, cancel := context.WithCancel(phaseCtx)
	defer cancel()

	var markerSeen atomic.Bool
	if req.MarkerPath != "" {
		err := WatchMarker(runCtx, req.MarkerPath, r.GracePeriod, func() {
			markerSeen.Store(true)
			cancel()
		})
		if err != nil {
			r.logger().Warn("completion marker watch unavailable", "error", err)
		}
	}

	transcript, closeTranscript := openTranscript(req.TranscriptPath, r.logger())
	defer closeTranscript()

	parser := NewStreamParser(r.OnEvent)
	var mu sync.Mutex
	execErr := r.Executor.Execute(runCtx, req.Dir, r.BuildArgs(req), func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if transcript != nil {
			fmt.Fprintln(transcript, line)
		}
		parser.ParseLine(line)
	})

	mu.Lock()
	st := *parser.State()
	noise := strings.Join(parser.Noise(), "\n")
	mu.Unlock()

	res := classify(outcome{
		state:       &st,
		execErr:     execErr,
		noise:       noise,
		markerSeen:  markerSeen.Load(),
		deadline:    errors.Is(phaseCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
		interrupted: ctx.Err(),
		artifact:    fileExists(req.ArtifactPath),
	})
	res.Duration = time.Since(start)
	res.SessionID = st.SessionID
	res.NumTurns = st.Turns
	if st.Result != nil {
		res.CostUSD = st.Result.Cost()
		if st.Result.Result != "" {
			res.Text = st.Result.Result
		}
	}
	if res.Text == "" {
		res.Text = st.LastText
	}

	r.logger().Debug("agent run finished",
		"status", string(res.Status),
		"class", res.Class.String(),
		"turns", res.NumTurns,
		"cost_usd", res.CostUSD,
		"elapsed", res.Duration)
	return res
}

type outcome struct {
	state       *StreamState
	execErr     error
	noise       string
	markerSeen  bool
	deadline    bool
	interrupted error
	artifact    bool
}

func classify(o outcome) Result {
	if o.interrupted != nil {
		return Result{Status: phase.StatusFailed, Class: ClassExecution, Err: o.interrupted}
	}
	// The agent declared completion; the process was stopped on purpose.
	if o.markerSeen {
		return Result{Status: phase.StatusCompleted, MarkerSeen: true}
	}
	if o.deadline {
		return Result{Status: phase.StatusTimeout, Class: ClassTimeout, Err: ErrTimeout}
	}

	errText := o.noise
	if o.execErr != nil {
		errText = strings.TrimSpace(o.execErr.Error() + "\n" + o.noise)
	}

	ev := o.state.Result
	if ev == nil {
		if o.execErr == nil {
			return Result{Status: phase.StatusFailed, Class: ClassExecution, Err: ErrNoResult}
		}
		class := ClassifyText(errText)
		if class == ClassCostParse && o.state.LastText != "" {
			return Result{Status: phase.StatusCompleted, Class: ClassCostParse}
		}
		return Result{Status: phase.StatusFailed, Class: class, Err: o.execErr}
	}

	switch {
	case ev.IsSuccess():
		if ev.CostParseError {
			return Result{Status: phase.StatusCompleted, Class: ClassCostParse}
		}
		if o.execErr == nil {
			return Result{Status: phase.StatusCompleted}
		}
		switch class := ClassifyText(errText); class {
		case ClassBenignCleanup, ClassCostParse:
			return Result{Status: phase.StatusCompleted, Class: class}
		default:
			// The work finished; trailing process noise does not undo it.
			return Result{Status: phase.StatusCompleted, Class: ClassBenignCleanup}
		}

	case ev.Subtype == SubtypeErrorMaxTurns:
		return Result{Status: phase.StatusFailed, Class: ClassMaxTurns, Err: ErrMaxTurns}

	case ev.Subtype == SubtypeErrorDuringExecution && !ev.IsError:
		if o.artifact {
			return Result{Status: phase.StatusCompleted}
		}
		return Result{Status: phase.StatusFailed, Class: ClassExecution, Err: ErrNoArtifact}

	default:
		text := strings.TrimSpace(ev.Result + "\n" + errText)
		class := ClassifyText(text)
		if class == ClassCostParse && ev.Result != "" {
			return Result{Status: phase.StatusCompleted, Class: ClassCostParse}
		}
		if class == ClassBenignCleanup {
			class = ClassExecution
		}
		msg := ev.Result
		if msg == "" {
			msg = ev.Subtype
		}
		return Result{Status: phase.StatusFailed, Class: class, Err: errors.New(msg)}
	}
}

func openTranscript(path string, log *logging.Logger) (*os.File, func()) {
	if path == "" {
		return nil, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("failed to create transcript directory", "error", err)
		return nil, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		log.Warn("failed to create transcript", "error", err)
		return nil, func() {}
	}
	return f, func() { f.Close() }
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
