package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/state"
)

// statusWidth is the board width used by the status command.
const statusWidth = 100

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of the current or last run",
		Long: `Shows the per-milestone phase board from .cc_automator/progress.json and,
when the run has finished, the summary from results.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := projectDir(cmd)
			if err != nil {
				return err
			}
			return showStatus(cmd.OutOrStdout(), state.NewStore(dir), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print progress.json and results.json as JSON")
	return cmd
}

func showStatus(out io.Writer, store *state.Store, asJSON bool) error {
	prog, err := store.LoadProgress()
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}
	results, err := store.LoadResults()
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Progress *state.Progress `json:"progress"`
			Results  *state.Results  `json:"results,omitempty"`
		}{prog, results})
	}

	if prog == nil {
		fmt.Fprintf(out, "No run found in %s.\n", store.ProjectDir())
		return nil
	}
	fmt.Fprintln(out, display.NewBoard(phaseNames(), 0, false).Render(prog, statusWidth))
	if results != nil && results.RunID == prog.RunID {
		fmt.Fprintf(out, "\nLast run %s: %s in %s, %s\n",
			results.RunID, results.Status, display.FormatDuration(results.Duration), display.FormatCost(results.TotalCostUSD))
		if results.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", results.Error)
		}
	}
	return nil
}
