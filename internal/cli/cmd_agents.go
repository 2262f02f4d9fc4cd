package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
)

// agentRoles is the fixed set of role names a Phase Executor or the
// Review-Response Orchestrator's conflict-resolution step can launch
// (internal/phase/analysis.go, planning.go, implementation.go,
// integration.go, pullrequest.go, internal/review/review.go).
var agentRoles = []struct {
	name        string
	description string
}{
	{"issue-analyst", "Phase 1: extract requirements, change type, and ambiguities from the issue"},
	{"codebase-scout", "Phase 1: map the files and conventions relevant to the analysis"},
	{"implementation-planner", "Phase 2: break the analysis into a dependency-ordered task plan"},
	{"code-writer", "Phase 3: implement one task's production code"},
	{"test-writer", "Phase 3: write tests for one task"},
	{"code-reviewer", "Phase 3: review a task's diff before it is marked complete"},
	{"fix-surgeon", "Phase 3/4: repair a task or build/test failure flagged by review or verification"},
	{"pr-composer", "Phase 5: draft the pull request title, labels, and body"},
	{"conflict-resolver", "Review-response: resolve a rebase conflict against unresolved PR feedback"},
}

// newAgentsCmd creates the agents command tree.
func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage agent role prompts",
		Long: `Agents are the role names the pipeline passes to the Agent Launcher
when it invokes an external AI coding agent process. Each role expects a
prompt file describing its instructions in the configured prompts
directory.

Examples:
  cadre agents list
  cadre agents scaffold
  cadre agents validate`,
		RunE: runAgentsList,
	}

	cmd.PersistentFlags().String("prompts-dir", ".cadre/prompts", "directory containing role prompt files")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every agent role the pipeline can launch",
		RunE:  runAgentsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "scaffold",
		Short: "Write starter prompt files for every agent role",
		Long: `Scaffold writes one starter markdown prompt file per agent role into
the prompts directory, skipping any file that already exists so hand-edited
prompts are never overwritten.`,
		RunE: runAgentsScaffold,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check every role has a prompt file and the agent command resolves",
		RunE:  runAgentsValidate,
	})

	return cmd
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tDESCRIPTION")
	for _, r := range agentRoles {
		fmt.Fprintf(w, "%s\t%s\n", r.name, r.description)
	}
	return w.Flush()
}

func runAgentsScaffold(cmd *cobra.Command, args []string) error {
	dir, err := cmd.Flags().GetString("prompts-dir")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prompts directory %s: %w", dir, err)
	}

	for _, r := range agentRoles {
		path := filepath.Join(dir, r.name+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		body := fmt.Sprintf("# %s\n\n%s\n", r.name, r.description)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

func runAgentsValidate(cmd *cobra.Command, args []string) error {
	dir, err := cmd.Flags().GetString("prompts-dir")
	if err != nil {
		return err
	}

	opts, err := loadConfig()
	if err != nil {
		return err
	}

	var missing []string
	for _, r := range agentRoles {
		path := filepath.Join(dir, r.name+".md")
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, r.name)
		}
	}

	if _, err := exec.LookPath(opts.Agent.Command); err != nil {
		return &cadreerrors.PipelineError{
			Code: cadreerrors.CodeConfigInvalid,
			What: fmt.Sprintf("agent command %q not found on PATH", opts.Agent.Command),
			Why:  "every phase launch execs this binary",
			Fix:  "install the agent CLI or set agent.command in the project config",
		}
	}

	if len(missing) > 0 {
		return &cadreerrors.PipelineError{
			Code: cadreerrors.CodeConfigInvalid,
			What: fmt.Sprintf("%d agent role(s) missing a prompt file in %s", len(missing), dir),
			Why:  fmt.Sprintf("roles without a prompt: %v", missing),
			Fix:  "run `cadre agents scaffold` to write starter prompts",
		}
	}

	fmt.Println("all agent roles have prompt files, and the agent command resolves on PATH")
	return nil
}
