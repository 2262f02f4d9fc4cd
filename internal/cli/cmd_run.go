package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/cadre/internal/fleet"
	"github.com/randalmurphal/cadre/internal/review"
)

// newRunCmd creates the run command: drives a set of issues through either
// a fresh full-pipeline run (the Fleet Orchestrator) or a review-response
// pass (the Review-Response Orchestrator) depending on --respond-to-reviews.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run issues through the orchestration pipeline",
		Long: `Run drives one or more tracker issues through the five-phase pipeline:
Analysis, Planning, Implementation, Integration Verification, and Pull
Request. Each issue runs in its own isolated git worktree.

With --respond-to-reviews, run instead looks for issues whose PR already
has unresolved review feedback, rebases the PR branch, and re-runs phases
3-5 (Implementation, Integration Verification, Pull Request) against it.

Examples:
  cadre run --issue 42
  cadre run --issue 42 --issue 57 --parallel 2
  cadre run --respond-to-reviews --issue 42`,
		RunE: runRun,
	}

	cmd.Flags().IntSlice("issue", nil, "issue numbers to run (repeatable); defaults to every open issue")
	cmd.Flags().Int("parallel", 0, "override maxParallelIssues (fresh-issue mode only)")
	cmd.Flags().Bool("resume", false, "resume from each issue's last completed phase")
	cmd.Flags().Bool("dry-run", false, "set the dryRun option; no phase reads it, so agents are still launched")
	cmd.Flags().Bool("respond-to-reviews", false, "re-run phases 3-5 against issues with unresolved PR review feedback")
	cmd.Flags().Bool("no-pr", false, "stop after Integration Verification; never launch pr-composer or open a pull request")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := loadConfig()
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetBool("resume"); v {
		opts.Resume = true
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); v {
		opts.DryRun = true
	}
	if v, _ := cmd.Flags().GetInt("parallel"); v > 0 {
		opts.MaxParallelIssues = v
	}
	respondToReviews, _ := cmd.Flags().GetBool("respond-to-reviews")
	if respondToReviews {
		opts.RespondToReviews = true
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}

	ctx, cancel := SetupSignalHandler()
	defer cancel()
	cmd.SetContext(ctx)

	issues, err := issuesFromFlags(cmd, e.hosting)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(os.Stderr, "no issues to run")
		return nil
	}

	var out any
	if opts.RespondToReviews {
		runner := &review.Runner{NewOrch: e.orchestratorFactory(), Log: logger}
		out = runner.RunAll(ctx, issues)
	} else {
		f := &fleet.Fleet{
			Options:      opts,
			NewOrch:      e.orchestratorFactory(),
			Tokens:       e.tokens,
			Log:          logger,
			ProgressPath: filepath.Join(opts.ProgressRoot, "fleet-progress.json"),
		}
		if noPR, _ := cmd.Flags().GetBool("no-pr"); noPR {
			f.Phases = []int{1, 2, 3, 4}
		}
		out = f.RunAll(ctx, issues)
	}

	if err := printJSON(out); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return InterruptedError()
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
