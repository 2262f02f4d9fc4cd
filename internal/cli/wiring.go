package cli

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/cadre/internal/agent"
	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/orchestrator"
	"github.com/randalmurphal/cadre/internal/tokentracker"
)

// loadConfig resolves Options from the --config flag (or the default
// project path) through the layered defaults/system/user/project/env chain.
func loadConfig() (*config.Options, error) {
	return config.Load(cfgFile, logger)
}

// checkpointPath returns the per-issue checkpoint location under the
// configured progress root.
func checkpointPath(opts *config.Options, issueNumber int) string {
	return filepath.Join(opts.ProgressRoot, strconv.Itoa(issueNumber), "checkpoint.json")
}

// env bundles the dependencies every orchestrator needs, built once per
// invocation and shared across every issue's per-issue Orchestrator.
type env struct {
	opts      *config.Options
	repo      *git.Repo
	worktrees *git.Manager
	hosting   hosting.Provider
	launcher  agent.Launcher
	tokens    *tokentracker.Tracker
}

// buildEnv wires the shared dependencies from resolved config: the repo at
// the current directory, a worktree manager rooted at opts.WorktreeRoot, a
// hosting provider auto-detected (or explicit) per opts.Hosting, and the
// default exec-based agent launcher.
func buildEnv(opts *config.Options) (*env, error) {
	repo, err := git.Open(".")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	mgr, err := git.NewManager(repo, opts.WorktreeRoot, opts.Hosting.BaseBranch, logger)
	if err != nil {
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}

	provider, err := hosting.NewProvider(".", hosting.Config{Provider: opts.Hosting.Provider})
	if err != nil {
		return nil, fmt.Errorf("resolve hosting provider: %w", err)
	}

	launcher := agent.NewExecLauncher(opts.Agent.Command, logger)

	var tokens *tokentracker.Tracker
	if opts.AmbiguityThreshold > 0 {
		tokens = tokentracker.New(tokentracker.Budget{})
	}

	return &env{opts: opts, repo: repo, worktrees: mgr, hosting: provider, launcher: launcher, tokens: tokens}, nil
}

// buildWorktreeManager wires just the git.Repo/git.Manager pair, for
// commands (worktrees) that operate on worktrees without needing a hosting
// provider or agent launcher.
func buildWorktreeManager(opts *config.Options) (*git.Manager, error) {
	repo, err := git.Open(".")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	mgr, err := git.NewManager(repo, opts.WorktreeRoot, opts.Hosting.BaseBranch, logger)
	if err != nil {
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}
	return mgr, nil
}

// orchestratorFactory builds a fresh *orchestrator.Orchestrator for issue,
// opening (or creating) its own checkpoint store. Both fleet.OrchestratorFactory
// and review.OrchestratorFactory share this exact function shape, so the same
// closure is handed to either the Fleet Orchestrator or the Review-Response
// Orchestrator depending on which mode `run` is invoked in.
func (e *env) orchestratorFactory() func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
	return func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
		cp, err := checkpoint.Open(checkpointPath(e.opts, issue.Number))
		if err != nil {
			return nil, fmt.Errorf("open checkpoint for issue %d: %w", issue.Number, err)
		}
		return &orchestrator.Orchestrator{
			Options:    e.opts,
			Checkpoint: cp,
			Repo:       e.repo,
			Worktrees:  e.worktrees,
			Hosting:    e.hosting,
			Launcher:   e.launcher,
			Tokens:     e.tokens,
			Log:        logger,
		}, nil
	}
}

// issuesFromFlags resolves the issues a run should cover: the explicit
// --issue numbers if given, fetched one at a time via GetIssue (so a typo'd
// issue number surfaces a clear not-found error), or every open issue from
// ListIssues otherwise.
func issuesFromFlags(cmd *cobra.Command, provider hosting.Provider) ([]*hosting.Issue, error) {
	numbers, err := cmd.Flags().GetIntSlice("issue")
	if err != nil {
		return nil, err
	}
	if len(numbers) > 0 {
		issues := make([]*hosting.Issue, 0, len(numbers))
		for _, n := range numbers {
			issue, err := provider.GetIssue(cmd.Context(), n)
			if err != nil {
				return nil, fmt.Errorf("get issue %d: %w", n, err)
			}
			issues = append(issues, issue)
		}
		return issues, nil
	}

	list, err := provider.ListIssues(cmd.Context(), hosting.IssueFilter{State: "open"})
	if err != nil {
		return nil, fmt.Errorf("list open issues: %w", err)
	}
	issues := make([]*hosting.Issue, len(list))
	for i := range list {
		issues[i] = &list[i]
	}
	return issues, nil
}
