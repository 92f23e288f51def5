package fincli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/datasource"
)

type appRunner func(run func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error

// defaultDays is the default look-back window.
const defaultDays = 30

func newFetchCmd(withApp appRunner) *cobra.Command {
	var (
		days   int
		source string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Download, clean and store daily prices",
		Example: `  findata fetch AAPL
  findata fetch MSFT --days 90 --source alphavantage`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			res, err := app.Fetch(cmd.Context(), args[0], days, source)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, barsTable(tail(res.Bars, limit)))
			fmt.Fprintf(app.Out, "Stored %d bars for %s (%s): %d dropped, %d invalid\n",
				res.Report.Output, res.Symbol, res.Range, res.Report.Dropped, res.Report.Invalid)
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", defaultDays, "number of calendar days to fetch")
	cmd.Flags().StringVar(&source, "source", "", fmt.Sprintf("only use this source (%s or %s)", datasource.YahooName, datasource.AlphaVantageName))
	cmd.Flags().IntVar(&limit, "limit", 10, "number of most recent bars to print (0 for all)")
	return cmd
}

func newSearchCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search for symbols by ticker or name",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			infos, err := app.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintf(app.Out, "No symbols match %q.\n", args[0])
				return nil
			}
			fmt.Fprintln(app.Out, symbolsTable(infos))
			return nil
		}),
	}
}

func newAnalyzeCmd(withApp appRunner) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Summarize stored prices, fetching them if needed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			a, err := app.Analyze(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, analysisTable(a))
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", 90, "number of calendar days to analyze")
	return cmd
}
