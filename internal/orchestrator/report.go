package orchestrator

import (
	"fmt"
	"strings"

	"github.com/thruflo/cc-automator/internal/display"
	"github.com/thruflo/cc-automator/internal/state"
)

// Report renders the markdown run report written to report.md.
func Report(r *state.Results) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# cc-automator run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Project: `%s`\n", r.Project)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- Duration: %s\n", display.FormatDuration(r.Duration))
	fmt.Fprintf(&b, "- Total cost: %s\n", display.FormatCost(r.TotalCostUSD))
	if r.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", r.Error)
	}

	if len(r.Milestones) == 0 {
		b.WriteString("\nNo milestones were run.\n")
		return b.String()
	}

	for _, ms := range r.Milestones {
		fmt.Fprintf(&b, "\n## Milestone %d: %s\n\n", ms.Number, ms.Name)
		fmt.Fprintf(&b, "Status: **%s**", ms.Status)
		if ms.Strategy != "" {
			fmt.Fprintf(&b, " | strategy: %s", ms.Strategy)
		}
		fmt.Fprintf(&b, " | step-backs: %d | cost: %s\n\n", ms.StepBacks, display.FormatCost(ms.CostUSD))

		b.WriteString("| Phase | Status | Attempts | Duration | Cost |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, ph := range ms.Phases {
			fmt.Fprintf(&b, "| %s | %s %s | %d | %s | %s |\n",
				ph.Phase, display.StatusEmoji(ph.Status), ph.Status, ph.Attempts,
				display.FormatDuration(ph.Duration), display.FormatCost(ph.CostUSD))
		}

		for _, ph := range ms.Phases {
			if ph.Error != "" {
				fmt.Fprintf(&b, "\n**%s error:** %s\n", ph.Phase, ph.Error)
			}
		}
	}
	return b.String()
}
