package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the per-project state directory.
const DirName = ".cc_automator"

// Default values for Config.
const (
	DefaultMaxStepBacks          = 3
	DefaultMaxFixIterations      = 5
	DefaultStagnationLimit       = 10
	DefaultMypyStagnationLimit   = 3
	DefaultPhaseTimeout          = 600 * time.Second
	DefaultFileFixTimeout        = 300 * time.Second
	DefaultParallelBatchTimeout  = time.Hour
	DefaultMaxTurns              = 50
	DefaultFileWorkers           = 4
	DefaultStrategyWorkers       = 3
	DefaultMinEvidenceBytes      = 100
	DefaultCompletionGracePeriod = 5 * time.Second
	DefaultCommandTimeout        = 5 * time.Minute
	DefaultAgentBinary           = "claude"
	DefaultV4Variants            = 3

	// SonnetModel is the model used when --force-sonnet is set.
	SonnetModel = "sonnet"
)

// DefaultLimits returns limits with sensible default values.
func DefaultLimits() Limits {
	return Limits{
		MaxStepBacks:          DefaultMaxStepBacks,
		MaxFixIterations:      DefaultMaxFixIterations,
		StagnationLimit:       DefaultStagnationLimit,
		MypyStagnationLimit:   DefaultMypyStagnationLimit,
		PhaseTimeout:          DefaultPhaseTimeout,
		FileFixTimeout:        DefaultFileFixTimeout,
		ParallelBatchTimeout:  DefaultParallelBatchTimeout,
		MaxTurns:              DefaultMaxTurns,
		FileWorkers:           DefaultFileWorkers,
		StrategyWorkers:       DefaultStrategyWorkers,
		MinEvidenceBytes:      DefaultMinEvidenceBytes,
		CompletionGracePeriod: DefaultCompletionGracePeriod,
	}
}

// DefaultCommands returns the Python project commands the pipeline assumes.
func DefaultCommands() Commands {
	return Commands{
		Flake8:           []string{"flake8", "--select=F", "."},
		Mypy:             []string{"mypy", "--ignore-missing-imports", "."},
		UnitTests:        []string{"pytest", "tests/unit", "-q"},
		IntegrationTests: []string{"pytest", "tests/integration", "-q"},
		Main:             []string{"python", "main.py"},
		SyntheticStdin:   "1\nq\nexit\n",
		Timeout:          DefaultCommandTimeout,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Limits:   DefaultLimits(),
		Agent:    Agent{Binary: DefaultAgentBinary},
		Commands: DefaultCommands(),
		V4:       V4{Variants: DefaultV4Variants},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Path returns the config file path for a project.
func Path(basePath string) string {
	return filepath.Join(basePath, DirName, "config.yaml")
}

// LoadConfig reads and parses .cc_automator/config.yaml from the given base path.
// If the file doesn't exist, returns default config.
// Applies defaults for any missing fields.
func LoadConfig(basePath string) (*Config, error) {
	data, err := os.ReadFile(Path(basePath))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteDefault writes the default config to .cc_automator/config.yaml.
// An existing file is left untouched unless force is set.
func WriteDefault(basePath string, force bool) (bool, error) {
	path := Path(basePath)
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	l := cfg.Limits
	if l.MaxStepBacks < 0 {
		return ValidationError{Field: "limits.max_step_backs", Message: "must not be negative"}
	}
	if l.MaxFixIterations <= 0 {
		return ValidationError{Field: "limits.max_fix_iterations", Message: "must be positive"}
	}
	if l.StagnationLimit <= 0 {
		return ValidationError{Field: "limits.stagnation_limit", Message: "must be positive"}
	}
	if l.MypyStagnationLimit <= 0 {
		return ValidationError{Field: "limits.mypy_stagnation_limit", Message: "must be positive"}
	}
	if l.PhaseTimeout <= 0 {
		return ValidationError{Field: "limits.phase_timeout", Message: "must be positive"}
	}
	if l.FileFixTimeout <= 0 {
		return ValidationError{Field: "limits.file_fix_timeout", Message: "must be positive"}
	}
	if l.MaxTurns <= 0 {
		return ValidationError{Field: "limits.max_turns", Message: "must be positive"}
	}
	if l.FileWorkers <= 0 {
		return ValidationError{Field: "limits.file_workers", Message: "must be positive"}
	}
	if l.StrategyWorkers <= 0 {
		return ValidationError{Field: "limits.strategy_workers", Message: "must be positive"}
	}
	if cfg.Agent.Binary == "" {
		return ValidationError{Field: "agent.binary", Message: "required field is empty"}
	}
	if len(cfg.Commands.Main) == 0 {
		return ValidationError{Field: "commands.main", Message: "required field is empty"}
	}
	if cfg.V4.Variants < 0 {
		return ValidationError{Field: "v4.variants", Message: "must not be negative"}
	}
	return nil
}

// ModelFor returns the model to use for a phase, honoring force_sonnet and
// per-phase overrides.
func (c *Config) ModelFor(phaseName string) string {
	if c.Agent.ForceSonnet {
		return SonnetModel
	}
	if o, ok := c.Phases[phaseName]; ok && o.Model != "" {
		return o.Model
	}
	return c.Agent.Model
}

// Apply folds resolved run options into the config.
func (c *Config) Apply(opts Options) {
	if opts.Model != "" {
		c.Agent.Model = opts.Model
	}
	if opts.ForceSonnet {
		c.Agent.ForceSonnet = true
	}
	if opts.V4 {
		c.V4.Enabled = true
	}
	if opts.V4Learning {
		c.V4.Learning = true
	}
	if opts.V4Parallel {
		c.V4.Parallel = true
	}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
