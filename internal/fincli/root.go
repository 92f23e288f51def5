// Package fincli implements the findata command line: fetch daily prices,
// search symbols and summarize stored prices.
package fincli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/logging"
)

// Opener builds the App a command runs against.
type Opener func(ctx context.Context, cfg Config, out io.Writer) (*App, error)

// NewRootCmd builds the findata command tree using open to build the App.
func NewRootCmd(open Opener) *cobra.Command {
	var (
		cfg     Config
		dbPath  string
		verbose bool
	)
	root := &cobra.Command{
		Use:   "findata",
		Short: "Fetch, store and analyze daily market prices",
		Long: `findata downloads daily OHLCV prices from Yahoo Finance or Alpha Vantage,
cleans and validates them, stores them in SQLite and prints summaries.

Settings come from FINDATA_* environment variables (FINDATA_DB_PATH,
FINDATA_REDIS_URL, FINDATA_SOURCES, ...). The Alpha Vantage key is read from
ALPHA_VANTAGE_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				loaded.DBPath = dbPath
			}
			level, err := logging.ParseLevel(loaded.LogLevel)
			if err != nil {
				return err
			}
			if verbose {
				level = logging.LevelDebug
			}
			l := logging.NewConsole(os.Stderr)
			l.SetLevel(level)
			logging.SetDefault(l)
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "findata.db", "SQLite database path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	withApp := func(run func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer app.Close()
			return run(cmd, app, args)
		}
	}
	root.AddCommand(newFetchCmd(withApp), newSearchCmd(withApp), newAnalyzeCmd(withApp))
	return root
}

// Execute runs the findata command line. SIGINT and SIGTERM cancel it.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(Open).ExecuteContext(ctx)
}
