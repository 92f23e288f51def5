// Package cli implements the cc-automator command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRootCmd builds the command tree. Running the root command without a
// subcommand is the same as "run".
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cc-automator",
		Short: "Autonomous milestone-by-milestone project builder",
		Long: `cc-automator drives the claude CLI through research, planning, implementation,
checks and commit for every milestone in a project's CLAUDE.md.

Every phase must leave evidence on disk, which is validated independently of
what the agent reports. Failed phases are retried with escalating prompts and,
when the root cause lies in an earlier phase, the pipeline steps back and
re-runs from there with the failure as context.

Flags can also be set through CCA_* environment variables, e.g. CCA_MODEL or
CCA_INFINITE=true.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           Version,
		PersistentPreRunE: configureLogging,
		RunE:              runPipeline,
	}
	root.SetVersionTemplate("cc-automator version {{.Version}}\n")
	root.PersistentFlags().StringP("project", "p", ".", "project directory containing CLAUDE.md")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	addRunFlags(root.Flags())

	root.AddCommand(newRunCmd(), newStatusCmd(), newInitCmd())
	return root
}

// Execute runs the command line. SIGINT and SIGTERM cancel the run.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func configureLogging(cmd *cobra.Command, _ []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	if v.GetBool("verbose") {
		level = logging.LevelDebug
	}
	l := logging.NewConsole(os.Stderr)
	l.SetLevel(level)
	logging.SetDefault(l)
	return nil
}
