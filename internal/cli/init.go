package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/thruflo/cc-automator/internal/config"
	"github.com/thruflo/cc-automator/internal/orchestrator"
	"github.com/thruflo/cc-automator/internal/state"
)

// specTemplate is written when the project has no CLAUDE.md yet.
const specTemplate = `# Project name

Describe what the program does, who uses it and how it is run.

## Technical requirements

- Python 3.11+
- Entry point: main.py
- Unit tests in tests/unit, integration tests in tests/integration (pytest)

## Milestones

### Milestone 1: Working core
Describe the first usable slice of functionality.
- main.py runs without errors
- Core behaviour is covered by unit tests
`

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize .cc_automator/ in a project",
		Long: `Creates the .cc_automator/ directory layout and a default config.yaml.

This command sets up:
  - .cc_automator/config.yaml with limits, agent and project commands
  - the milestones, checkpoints, phase_outputs and log directories
  - a CLAUDE.md skeleton when the project has none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := projectDir(cmd)
			if err != nil {
				return err
			}
			return initProject(cmd.OutOrStdout(), dir, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config.yaml")
	return cmd
}

func initProject(out io.Writer, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := state.NewStore(dir).EnsureLayout(); err != nil {
		return err
	}

	written, err := config.WriteDefault(dir, force)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(out, "Created %s\n", config.Path(dir))
	} else {
		fmt.Fprintf(out, "Kept existing %s (use --force to overwrite)\n", config.Path(dir))
	}

	spec := filepath.Join(dir, orchestrator.SpecFile)
	if _, err := os.Stat(spec); os.IsNotExist(err) {
		if err := os.WriteFile(spec, []byte(specTemplate), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", orchestrator.SpecFile, err)
		}
		fmt.Fprintf(out, "Created %s; describe your milestones there\n", spec)
	}
	return nil
}
