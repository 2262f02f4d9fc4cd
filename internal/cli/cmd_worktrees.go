package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newWorktreesCmd creates the worktrees command.
func newWorktreesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktrees",
		Short: "List active issue worktrees",
		Long: `List every worktree currently provisioned under the configured
worktree root, one row per issue.

Examples:
  cadre worktrees
  cadre worktrees prune`,
		RunE: runWorktreesList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove stale worktree administrative metadata",
		Long: `Prune removes git's worktree bookkeeping for directories that were
deleted outside of git (e.g. by "rm -rf" instead of "cadre worktrees" +
git worktree remove).`,
		RunE: runWorktreesPrune,
	})

	return cmd
}

func runWorktreesList(cmd *cobra.Command, args []string) error {
	opts, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := buildWorktreeManager(opts)
	if err != nil {
		return err
	}

	active, err := mgr.ListActive()
	if err != nil {
		return err
	}
	sort.Slice(active, func(i, j int) bool { return active[i].IssueNumber < active[j].IssueNumber })

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tBRANCH\tBASE\tPATH")
	for _, wt := range active {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", wt.IssueNumber, wt.Branch, wt.BaseCommit, wt.Path)
	}
	return w.Flush()
}

func runWorktreesPrune(cmd *cobra.Command, args []string) error {
	opts, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := buildWorktreeManager(opts)
	if err != nil {
		return err
	}
	return mgr.Prune()
}
