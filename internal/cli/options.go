package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thruflo/cc-automator/internal/config"
)

// EnvPrefix prefixes environment overrides, e.g. CCA_MODEL.
const EnvPrefix = "CCA"

func addRunFlags(fs *pflag.FlagSet) {
	fs.Bool("resume", false, "skip phases completed in a previous run")
	fs.Int("milestone", 0, "run only milestone N")
	fs.Bool("parallel", false, "run lint and typecheck concurrently")
	fs.Bool("no-parallel", false, "disable --parallel")
	fs.Bool("file-parallel", true, "fix lint and typecheck errors file by file, in parallel")
	fs.Bool("no-file-parallel", false, "disable --file-parallel")
	fs.Bool("visual", true, "show the progress board")
	fs.Bool("no-visual", false, "disable --visual")
	fs.Bool("infinite", false, "keep recovering until progress stagnates instead of stopping after the step-back budget")
	fs.Bool("force-sonnet", false, "use sonnet for every phase")
	fs.String("model", "", "agent model for every phase without an override")
	fs.Bool("v4", false, "choose an execution strategy per milestone")
	fs.Bool("v4-learning", false, "learn from strategy outcomes across runs (implies --v4)")
	fs.Bool("v4-parallel", false, "allow parallel exploration of alternative implementations (implies --v4)")
	fs.Bool("explain", false, "print the reasoning behind each strategy decision")
	fs.String("status-addr", "", "serve /healthz, /progress and /metrics on this address")
}

// newViper binds the command's flags and CCA_* environment variables.
// Flags win over the environment, which wins over flag defaults.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// resolveOptions merges flags and environment into run options.
func resolveOptions(cmd *cobra.Command) (config.Options, error) {
	v, err := newViper(cmd)
	if err != nil {
		return config.Options{}, err
	}
	dir, err := filepath.Abs(v.GetString("project"))
	if err != nil {
		return config.Options{}, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	opts := config.Options{
		ProjectDir:   dir,
		Resume:       v.GetBool("resume"),
		Milestone:    v.GetInt("milestone"),
		Parallel:     v.GetBool("parallel") && !v.GetBool("no-parallel"),
		FileParallel: v.GetBool("file-parallel") && !v.GetBool("no-file-parallel"),
		Visual:       v.GetBool("visual") && !v.GetBool("no-visual"),
		Verbose:      v.GetBool("verbose"),
		Infinite:     v.GetBool("infinite"),
		ForceSonnet:  v.GetBool("force-sonnet"),
		Model:        v.GetString("model"),
		V4:           v.GetBool("v4"),
		V4Learning:   v.GetBool("v4-learning"),
		V4Parallel:   v.GetBool("v4-parallel"),
		Explain:      v.GetBool("explain"),
		StatusAddr:   v.GetString("status-addr"),
	}
	if opts.Milestone < 0 {
		return opts, fmt.Errorf("--milestone must not be negative, got %d", opts.Milestone)
	}
	if opts.V4Learning || opts.V4Parallel || opts.Explain {
		opts.V4 = true
	}
	return opts, nil
}

// projectDir resolves --project / CCA_PROJECT for commands without run flags.
func projectDir(cmd *cobra.Command) (string, error) {
	v, err := newViper(cmd)
	if err != nil {
		return "", err
	}
	dir, err := filepath.Abs(v.GetString("project"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return dir, nil
}
