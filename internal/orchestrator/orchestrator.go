// Package orchestrator implements the Issue Orchestrator: the per-issue
// state machine that drives the five Phase Executors end to end, checking
// gates between phases and halting on unresolved ambiguities or exhausted
// retries.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/cadre/internal/agent"
	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
	"github.com/randalmurphal/cadre/internal/gate"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/phase"
	"github.com/randalmurphal/cadre/internal/retryexec"
	"github.com/randalmurphal/cadre/internal/task"
	"github.com/randalmurphal/cadre/internal/tokentracker"
)

// AllPhases runs a fresh issue through the full pipeline.
var AllPhases = []int{1, 2, 3, 4, 5}

// Orchestrator drives one issue through the phase state machine:
// INIT → RUN_PHASE(p) → GATE(p) → {pass|warn → p+1 | fail → RETRY_PHASE(p)
// → GATE(p) → {pass|warn → p+1 | fail → ABORT}}.
type Orchestrator struct {
	Options    *config.Options
	Checkpoint *checkpoint.Store
	Repo       *git.Repo
	Worktrees  *git.Manager
	Hosting    hosting.Provider
	Launcher   agent.Launcher
	Tokens     *tokentracker.Tracker
	Log        *slog.Logger
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}

// Result is what the fleet orchestrator and the CLI both consume.
type Result struct {
	IssueNumber   int
	Success       bool
	CodeComplete  bool
	Phases        []int
	Branch        string
	PR            *hosting.PR
	TotalDuration time.Duration
	TokenUsage    checkpoint.TokenUsage
	Error         string
}

// Run drives issue through every phase in phases, in order, skipping
// phases the checkpoint already records complete. The review-response
// orchestrator reuses Run with phases={3,4,5} against a checkpoint whose
// phases 3-5 it has already reset.
func (o *Orchestrator) Run(ctx context.Context, issue *hosting.Issue, phases []int) *Result {
	start := time.Now()
	result := &Result{IssueNumber: issue.Number}

	wt, err := o.Worktrees.Provision(issue.Number, issue.Title, o.Options.Resume)
	if err != nil {
		result.Error = fmt.Sprintf("provision worktree: %v", err)
		return result
	}
	result.Branch = wt.Branch
	if err := o.Checkpoint.SetWorktree(wt.Path, wt.Branch, wt.BaseCommit); err != nil {
		o.log().Warn("failed to record worktree in checkpoint", "issue", issue.Number, "error", err)
	}

	env := &phase.Env{
		IssueNumber:  issue.Number,
		IssueTitle:   issue.Title,
		WorktreePath: wt.Path,
		ProgressDir:  filepath.Join(o.Options.ProgressRoot, strconv.Itoa(issue.Number)),
		BaseCommit:   wt.BaseCommit,
		Repo:         o.Repo.At(wt.Path),
		Launcher:     o.Launcher,
		Hosting:      o.Hosting,
		Options:      o.Options,
		Checkpoint:   o.Checkpoint,
		Tokens:       o.Tokens,
		Log:          o.log(),
	}

	var tasks []*task.Task
	var pr *hosting.PR

	for _, p := range phases {
		if o.Checkpoint.IsPhaseCompleted(p) {
			result.Phases = append(result.Phases, p)
			if p >= checkpoint.ImplementationPhase {
				result.CodeComplete = true
			}
			continue
		}

		if err := o.Checkpoint.StartPhase(p); err != nil {
			result.Error = fmt.Sprintf("start phase %d: %v", p, err)
			return result
		}

		gr, err := o.runPhaseWithGate(ctx, env, issue, p, &tasks, &pr)
		if err != nil {
			result.Error = err.Error()
			return result
		}

		if gr.Status == checkpoint.GateStatusFail {
			result.Error = fmt.Sprintf("phase %d gate still failing after one retry: %s", p, strings.Join(gr.Errors, "; "))
			return result
		}

		if err := o.Checkpoint.CompletePhase(p); err != nil {
			result.Error = fmt.Sprintf("complete phase %d: %v", p, err)
			return result
		}
		result.Phases = append(result.Phases, p)
		if p >= checkpoint.ImplementationPhase {
			result.CodeComplete = true
		}

		if p == 1 {
			if haltErr := o.checkAmbiguities(ctx, env); haltErr != nil {
				result.Error = haltErr.Error()
				return result
			}
		}
	}

	result.Success = true
	result.PR = pr
	result.TotalDuration = time.Since(start)
	result.TokenUsage = o.Checkpoint.Snapshot().TokenUsage
	return result
}

// runPhaseWithGate executes phase p, evaluates its attached gates, and —
// if the merged gate result is fail — re-executes the phase exactly once
// more before giving up.
func (o *Orchestrator) runPhaseWithGate(ctx context.Context, env *phase.Env, issue *hosting.Issue, p int, tasks *[]*task.Task, pr **hosting.PR) (checkpoint.GateResult, error) {
	var gr checkpoint.GateResult
	for attempt := 1; attempt <= 2; attempt++ {
		if err := o.executePhase(ctx, env, issue, p, tasks, pr); err != nil {
			return checkpoint.GateResult{}, err
		}

		gr = o.evaluateGates(env, p)
		if err := o.Checkpoint.RecordGateResult(p, gr); err != nil {
			o.log().Warn("failed to record gate result", "phase", p, "error", err)
		}
		if gr.Status != checkpoint.GateStatusFail {
			return gr, nil
		}
		if attempt == 1 {
			o.log().Warn("phase gate failed, retrying phase once", "phase", p, "errors", gr.Errors)
		}
	}
	return gr, nil
}

// executePhase wraps one phase execution in the bounded-retry primitive so
// a phase that fails for a transient reason (an agent timeout, a flaky
// command) gets maxRetriesPerTask attempts before the gate even sees it.
func (o *Orchestrator) executePhase(ctx context.Context, env *phase.Env, issue *hosting.Issue, p int, tasks *[]*task.Task, pr **hosting.PR) error {
	maxAttempts := o.Options.MaxRetriesPerTask
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	res := retryexec.Run(retryexec.Options[struct{}]{
		Description: fmt.Sprintf("phase %d", p),
		MaxAttempts: maxAttempts,
		Log:         o.log(),
	}, func(attempt int) (struct{}, error) {
		return struct{}{}, o.runOnePhase(ctx, env, issue, p, tasks, pr)
	})
	if !res.Success {
		return res.Err
	}
	return nil
}

func (o *Orchestrator) runOnePhase(ctx context.Context, env *phase.Env, issue *hosting.Issue, p int, tasks *[]*task.Task, pr **hosting.PR) error {
	switch p {
	case 1:
		_, err := phase.RunAnalysis(ctx, env, issue)
		return err

	case 2:
		scope := strings.TrimSpace(gate.SectionBody(readArtifact(env, "analysis.md"), "Scope"))
		planResult, err := phase.RunPlanning(ctx, env, scope)
		if err != nil {
			return err
		}
		*tasks = planResult.Tasks
		return nil

	case 3:
		_, err := phase.RunImplementation(ctx, env, *tasks)
		return err

	case 4:
		_, err := phase.RunIntegration(ctx, env)
		return err

	case 5:
		branch, err := env.Repo.CurrentBranch()
		if err != nil {
			return fmt.Errorf("resolve branch for pull request: %w", err)
		}
		prResult, err := phase.RunPullRequest(ctx, env, branch, o.Options.Hosting.BaseBranch, o.Options.SquashCommits)
		if err != nil {
			return err
		}
		*pr = prResult.PR
		return nil

	default:
		return fmt.Errorf("unknown phase %d", p)
	}
}

// evaluateGates runs the gates attached to phase p and merges their
// results into the status that gates retrying the phase and completing it.
// Phase 1's Ambiguity gate is always merged with haltOnAmbiguity forced
// false, so an over-threshold ambiguity count can only ever warn here —
// never fail and trigger a pointless re-run of the analysis agents. The
// real halt-on-ambiguity decision belongs to checkAmbiguities, which runs
// once phase 1 has already completed.
func (o *Orchestrator) evaluateGates(env *phase.Env, p int) checkpoint.GateResult {
	switch p {
	case 1:
		return gate.Merge(gate.AnalysisToPlanning(env.ProgressDir), gate.Ambiguity(env.ProgressDir, o.Options.AmbiguityThreshold, false))
	case 2:
		return gate.Merge(gate.PlanningToImpl(env.ProgressDir, env.WorktreePath))
	case 3:
		return gate.Merge(gate.ImplToIntegration(env.Repo, env.BaseCommit))
	case 4:
		return gate.Merge(gate.IntegrationToPR(env.ProgressDir))
	default:
		return checkpoint.GateResult{Status: checkpoint.GateStatusPass}
	}
}

// checkAmbiguities extracts analysis.md's "## Ambiguities" section after
// phase 1 has already completed, notifies the hosting provider once, and
// halts the issue (a hard error) when the count exceeds the configured
// threshold and haltOnAmbiguity is set. This is the sole halt authority
// for ambiguities: evaluateGates's Ambiguity gate only ever warns, so a
// large ambiguity count can never cause phase 1 to retry.
func (o *Orchestrator) checkAmbiguities(ctx context.Context, env *phase.Env) error {
	markdown := readArtifact(env, "analysis.md")
	if markdown == "" {
		return nil
	}

	items := gate.ExtractAmbiguities(markdown)
	if len(items) == 0 {
		return nil
	}

	o.log().Info("ambiguities found during analysis", "issue", env.IssueNumber, "count", len(items))
	o.notifyAmbiguities(ctx, env, items)

	if len(items) > o.Options.AmbiguityThreshold && o.Options.HaltOnAmbiguity {
		return fmt.Errorf("halted: %d ambiguities exceed threshold %d", len(items), o.Options.AmbiguityThreshold)
	}
	return nil
}

func (o *Orchestrator) notifyAmbiguities(ctx context.Context, env *phase.Env, items []string) {
	if o.Hosting == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString("Ambiguities identified during analysis:\n\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- %s\n", item)
	}
	if err := o.Hosting.AddIssueComment(ctx, env.IssueNumber, sb.String()); err != nil {
		o.log().Warn("failed to post ambiguity comment", "issue", env.IssueNumber, "error", err)
	}
}

func readArtifact(env *phase.Env, name string) string {
	data, err := os.ReadFile(filepath.Join(env.ProgressDir, name))
	if err != nil {
		return ""
	}
	return string(data)
}
