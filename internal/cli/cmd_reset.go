package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/cadre/internal/checkpoint"
)

// newResetCmd creates the reset command.
func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <issue>",
		Short: "Clear completion/gate/output state for one or more phases",
		Long: `Reset clears an issue's checkpoint for the named phases: completion
status, recorded gate result, and phase output path. Earlier phases and
task-level state are left untouched.

This is the same operation the Review-Response Orchestrator performs on
phases 3-5 before re-running them against unresolved PR feedback; exposed
directly here for manual recovery.

Examples:
  cadre reset 42                  # reset phases 3,4,5 (the default)
  cadre reset 42 --phases 2,3,4,5`,
		Args: cobra.ExactArgs(1),
		RunE: runReset,
	}

	cmd.Flags().String("phases", "3,4,5", "comma-separated phase numbers to reset")

	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	issueNumber, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid issue number %q: %w", args[0], err)
	}

	phasesFlag, err := cmd.Flags().GetString("phases")
	if err != nil {
		return err
	}
	phases, err := parsePhaseList(phasesFlag)
	if err != nil {
		return err
	}

	opts, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := checkpoint.Open(checkpointPath(opts, issueNumber))
	if err != nil {
		return fmt.Errorf("open checkpoint for issue %d: %w", issueNumber, err)
	}
	if err := store.ResetPhases(phases...); err != nil {
		return fmt.Errorf("reset phases %v for issue %d: %w", phases, issueNumber, err)
	}

	fmt.Printf("reset phases %v for issue %d\n", phases, issueNumber)
	return nil
}

func parsePhaseList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	phases := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid phase %q: %w", p, err)
		}
		phases = append(phases, n)
	}
	return phases, nil
}
