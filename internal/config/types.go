package config

import "time"

// Limits bounds the retry, fix and step-back machinery.
type Limits struct {
	MaxStepBacks          int           `yaml:"max_step_backs"`
	MaxFixIterations      int           `yaml:"max_fix_iterations"`
	StagnationLimit       int           `yaml:"stagnation_limit"`
	MypyStagnationLimit   int           `yaml:"mypy_stagnation_limit"`
	PhaseTimeout          time.Duration `yaml:"phase_timeout"`
	FileFixTimeout        time.Duration `yaml:"file_fix_timeout"`
	ParallelBatchTimeout  time.Duration `yaml:"parallel_batch_timeout"`
	MaxTurns              int           `yaml:"max_turns"`
	FileWorkers           int           `yaml:"file_workers"`
	StrategyWorkers       int           `yaml:"strategy_workers"`
	MinEvidenceBytes      int           `yaml:"min_evidence_bytes"`
	CompletionGracePeriod time.Duration `yaml:"completion_grace_period"`
}

// Agent configures how the external agent CLI is invoked.
type Agent struct {
	Binary      string   `yaml:"binary"`
	Model       string   `yaml:"model,omitempty"`
	ForceSonnet bool     `yaml:"force_sonnet,omitempty"`
	ExtraArgs   []string `yaml:"extra_args,omitempty"`
}

// Commands are the project commands used for evidence validation.
type Commands struct {
	Flake8           []string      `yaml:"flake8"`
	Mypy             []string      `yaml:"mypy"`
	UnitTests        []string      `yaml:"unit_tests"`
	IntegrationTests []string      `yaml:"integration_tests"`
	Main             []string      `yaml:"main"`
	SyntheticStdin   string        `yaml:"synthetic_stdin"`
	Setup            [][]string    `yaml:"setup,omitempty"`
	Timeout          time.Duration `yaml:"timeout"`
}

// PhaseOverride adjusts the defaults of a single phase type.
type PhaseOverride struct {
	MaxTurns int           `yaml:"max_turns,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Model    string        `yaml:"model,omitempty"`
}

// V4 configures the strategy layer.
type V4 struct {
	Enabled  bool `yaml:"enabled"`
	Learning bool `yaml:"learning"`
	Parallel bool `yaml:"parallel"`
	Variants int  `yaml:"variants"`
}

// Config represents the .cc_automator/config.yaml file.
type Config struct {
	Limits   Limits                   `yaml:"limits"`
	Agent    Agent                    `yaml:"agent"`
	Commands Commands                 `yaml:"commands"`
	Phases   map[string]PhaseOverride `yaml:"phases,omitempty"`
	V4       V4                       `yaml:"v4"`
}

// Options are the per-run switches resolved from flags, environment and config.
type Options struct {
	ProjectDir   string
	Resume       bool
	Milestone    int
	Parallel     bool
	FileParallel bool
	Visual       bool
	Verbose      bool
	Infinite     bool
	ForceSonnet  bool
	Model        string
	V4           bool
	V4Learning   bool
	V4Parallel   bool
	Explain      bool
	StatusAddr   string
}

// Run status values recorded in progress.json.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
