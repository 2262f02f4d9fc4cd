package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/cadre/internal/checkpoint"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show checkpoint state for in-progress issues",
		Long: `Show the current phase, completed phases, and last gate result for
every issue with a checkpoint on disk under the configured progress root.

Examples:
  cadre status
  cadre status --issue 42`,
		RunE: runStatus,
	}

	cmd.Flags().IntSlice("issue", nil, "limit to these issue numbers")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	opts, err := loadConfig()
	if err != nil {
		return err
	}

	numbers, err := cmd.Flags().GetIntSlice("issue")
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		numbers, err = discoverIssueNumbers(opts.ProgressRoot)
		if err != nil {
			return err
		}
	}
	sort.Ints(numbers)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tPHASE\tCOMPLETED\tGATE")
	for _, n := range numbers {
		store, err := checkpoint.Open(checkpointPath(opts, n))
		if err != nil {
			fmt.Fprintf(w, "%d\t?\t?\terror: %v\n", n, err)
			continue
		}
		snap := store.Snapshot()
		fmt.Fprintf(w, "%d\t%d/%d\t%s\t%s\n", n, snap.CurrentPhase, checkpoint.TotalPhases,
			completedPhasesSummary(snap), gateSummary(snap))
	}
	return w.Flush()
}

func completedPhasesSummary(snap checkpoint.State) string {
	if len(snap.CompletedPhases) == 0 {
		return "-"
	}
	var done []int
	for p, ok := range snap.CompletedPhases {
		if ok {
			done = append(done, p)
		}
	}
	sort.Ints(done)
	out := ""
	for i, p := range done {
		if i > 0 {
			out += ","
		}
		out += strconv.Itoa(p)
	}
	return out
}

func gateSummary(snap checkpoint.State) string {
	gr, ok := snap.GateResults[snap.CurrentPhase]
	if !ok {
		return "-"
	}
	switch gr.Status {
	case checkpoint.GateStatusFail:
		return ansiColor("31", string(gr.Status))
	case checkpoint.GateStatusWarn:
		return ansiColor("33", string(gr.Status))
	default:
		return string(gr.Status)
	}
}

// discoverIssueNumbers lists the numeric subdirectories of root, each one
// an issue with a checkpoint on disk under .cadre/issues/<n>/.
func discoverIssueNumbers(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress root %s: %w", root, err)
	}

	var numbers []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(filepath.Base(e.Name()))
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}
