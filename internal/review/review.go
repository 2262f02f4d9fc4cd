// Package review implements the Review-Response Orchestrator: an alternate
// top-level loop, separate from a fresh issue run, that rebases an existing
// PR branch against unresolved review feedback and re-drives phases 3-5 of
// the Issue Orchestrator over it.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/randalmurphal/cadre/internal/agent"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/orchestrator"
	"github.com/randalmurphal/cadre/internal/util"
)

// ResponsePhases is the fixed set of phases re-run against an issue whose PR
// already has unresolved review feedback: Implementation, Integration
// Verification, and Pull Request.
var ResponsePhases = []int{3, 4, 5}

// OrchestratorFactory builds a fresh, fully-wired per-issue Orchestrator,
// the same contract the Fleet Orchestrator uses, so the review loop can
// reuse an issue's worktree manager, checkpoint store, and hosting provider
// rather than standing up its own.
type OrchestratorFactory func(issue *hosting.Issue) (*orchestrator.Orchestrator, error)

// Runner drives the review-response loop across a set of issues.
type Runner struct {
	NewOrch OrchestratorFactory
	Log     *slog.Logger
}

func (r *Runner) log() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// IssueOutcome is one issue's result from a review-response pass.
type IssueOutcome struct {
	IssueNumber int    `json:"issueNumber"`
	Skipped     bool   `json:"skipped"`
	SkipReason  string `json:"skipReason,omitempty"`
	Success     bool   `json:"success"`
	PRNumber    int    `json:"prNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunAll drives every issue in issues through Run, in order; unlike the
// Fleet Orchestrator's fresh-issue runs, review-response passes are not
// parallelized here since they're expected to run occasionally against a
// small, pre-selected subset of issues with open PRs.
func (r *Runner) RunAll(ctx context.Context, issues []*hosting.Issue) []IssueOutcome {
	outcomes := make([]IssueOutcome, 0, len(issues))
	for _, issue := range issues {
		outcomes = append(outcomes, r.Run(ctx, issue))
	}
	return outcomes
}

// Run carries one issue through the six-step review-response loop: check
// for an open PR, check for unresolved feedback, rebase, reset and re-run
// phases 3-5, then report the outcome.
func (r *Runner) Run(ctx context.Context, issue *hosting.Issue) IssueOutcome {
	orch, err := r.NewOrch(issue)
	if err != nil {
		r.log().Error("failed to construct orchestrator for issue", "issue", issue.Number, "error", err)
		return IssueOutcome{IssueNumber: 0, Error: err.Error()}
	}

	// Step 1: look up the open PR matching the branch template.
	branch := git.BranchName(issue.Number, issue.Title)
	pr, err := orch.Hosting.FindPRByBranch(ctx, branch)
	if err != nil {
		return IssueOutcome{IssueNumber: issue.Number, Error: fmt.Sprintf("find PR for branch %s: %v", branch, err)}
	}
	if pr == nil || pr.State != "open" {
		return IssueOutcome{IssueNumber: issue.Number, Skipped: true, SkipReason: "no open PR"}
	}

	// Step 2: fetch review threads; skip if nothing needs a response.
	threads, err := orch.Hosting.ListPRReviewComments(ctx, pr.Number)
	if err != nil {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Error: fmt.Sprintf("list review threads for PR %d: %v", pr.Number, err)}
	}
	if !hasUnresolvedFeedback(threads) {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Skipped: true, SkipReason: "no unresolved review threads or PR comments"}
	}

	// Step 3: provision the worktree from the PR's own head branch, not
	// the issue's canonical branch name (they coincide once the PR
	// exists, but the PR's HeadBranch is authoritative).
	if _, err := orch.Worktrees.ProvisionFromBranch(issue.Number, pr.HeadBranch); err != nil {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Error: fmt.Sprintf("provision worktree from branch %s: %v", pr.HeadBranch, err)}
	}

	// Step 4: rebase onto the latest base branch, resolving conflicts
	// with the conflict-resolver agent if needed.
	if err := r.rebase(ctx, orch, issue); err != nil {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Error: err.Error()}
	}

	// Step 5: reset phases 3-5 and re-run the Issue Orchestrator over
	// them only. The hosting provider is wrapped so Phase 5's PR
	// creation becomes a PR update, since a PR already exists.
	if err := orch.Checkpoint.ResetPhases(ResponsePhases...); err != nil {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Error: fmt.Sprintf("reset checkpoint phases: %v", err)}
	}

	reviewOrch := &orchestrator.Orchestrator{
		Options:    orch.Options,
		Checkpoint: orch.Checkpoint,
		Repo:       orch.Repo,
		Worktrees:  orch.Worktrees,
		Hosting:    &updateOnCreateHosting{Provider: orch.Hosting, existing: pr},
		Launcher:   orch.Launcher,
		Tokens:     orch.Tokens,
		Log:        orch.Log,
	}

	result := reviewOrch.Run(ctx, issue, ResponsePhases)
	if !result.Success {
		return IssueOutcome{IssueNumber: issue.Number, PRNumber: pr.Number, Error: result.Error}
	}

	// Step 6: notify the issue, if configured, that its PR was updated.
	if orch.Options.AutoReplyOnResolved {
		body := fmt.Sprintf("Review feedback addressed in #%d.", pr.Number)
		if err := orch.Hosting.AddIssueComment(ctx, issue.Number, body); err != nil {
			r.log().Warn("failed to post auto-reply comment", "issue", issue.Number, "error", err)
		}
	}

	return IssueOutcome{IssueNumber: issue.Number, Success: true, PRNumber: pr.Number}
}

// hasUnresolvedFeedback reports whether any thread is unresolved and carries
// at least one comment; an empty thread list or all-resolved threads mean
// there's nothing for the review-response loop to act on.
func hasUnresolvedFeedback(threads []hosting.ReviewThread) bool {
	for _, t := range threads {
		if !t.Resolved && len(t.Comments) > 0 {
			return true
		}
	}
	return false
}

// rebase drives RebaseStart → (conflict-resolver →) RebaseContinue,
// aborting and reporting failure if the conflict-resolver agent fails or a
// conflict remains after it runs.
func (r *Runner) rebase(ctx context.Context, orch *orchestrator.Orchestrator, issue *hosting.Issue) error {
	start, err := orch.Worktrees.RebaseStart(issue.Number)
	if err != nil {
		return fmt.Errorf("rebase start: %w", err)
	}
	if !start.Conflict {
		return nil
	}

	if err := r.resolveConflict(ctx, orch, issue, start); err != nil {
		orch.Worktrees.RebaseAbort(issue.Number)
		return err
	}

	cont := orch.Worktrees.RebaseContinue(issue.Number)
	if cont.Err != nil {
		orch.Worktrees.RebaseAbort(issue.Number)
		return fmt.Errorf("rebase continue: %w", cont.Err)
	}
	if cont.Conflict {
		orch.Worktrees.RebaseAbort(issue.Number)
		return fmt.Errorf("rebase still conflicted after conflict-resolver ran: %v", cont.ConflictedFiles)
	}
	return nil
}

func (r *Runner) resolveConflict(ctx context.Context, orch *orchestrator.Orchestrator, issue *hosting.Issue, rebaseResult *git.RebaseResult) error {
	contextPath, err := writeConflictContext(orch.Options.ProgressRoot, issue.Number, rebaseResult.ConflictedFiles)
	if err != nil {
		return fmt.Errorf("write conflict context: %w", err)
	}

	req := agent.Request{
		Agent:        "conflict-resolver",
		IssueNumber:  issue.Number,
		ContextPath:  contextPath,
		OutputPath:   filepath.Join(rebaseResult.WorktreePath, ".cadre", "conflict-resolution.md"),
		WorktreePath: rebaseResult.WorktreePath,
	}
	result, err := orch.Launcher.Launch(ctx, req)
	if err != nil {
		return fmt.Errorf("launch conflict-resolver: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("conflict-resolver (invocation %s) failed: %s", result.InvocationID, result.Error)
	}
	return nil
}

type conflictContext struct {
	IssueNumber     int      `json:"issueNumber"`
	ConflictedFiles []string `json:"conflictedFiles"`
}

func writeConflictContext(progressRoot string, issueNumber int, conflictedFiles []string) (string, error) {
	path := filepath.Join(progressRoot, strconv.Itoa(issueNumber), "conflict-context.json")
	data, err := json.MarshalIndent(conflictContext{IssueNumber: issueNumber, ConflictedFiles: conflictedFiles}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// updateOnCreateHosting wraps a hosting.Provider so a re-run of Phase 5
// against an issue that already has an open PR updates that PR's
// title/body instead of opening a duplicate one. Every other method
// delegates unchanged.
type updateOnCreateHosting struct {
	hosting.Provider
	existing *hosting.PR
}

func (u *updateOnCreateHosting) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	if err := u.Provider.UpdatePR(ctx, u.existing.Number, hosting.PRUpdateOptions{Title: opts.Title, Body: opts.Body}); err != nil {
		return nil, fmt.Errorf("update PR %d: %w", u.existing.Number, err)
	}
	updated := *u.existing
	updated.Title = opts.Title
	updated.Body = opts.Body
	return &updated, nil
}
