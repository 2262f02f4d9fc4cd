// Package fleet implements the Fleet Orchestrator: drives up to
// maxParallelIssues Issue Orchestrators concurrently and aggregates their
// outcomes into one fleet-wide report.
package fleet

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/orchestrator"
	"github.com/randalmurphal/cadre/internal/tokentracker"
	"github.com/randalmurphal/cadre/internal/util"
)

// OrchestratorFactory builds a fresh per-issue Orchestrator, wiring a
// dedicated checkpoint.Store (one per issue, opened by the caller) into an
// otherwise shared set of dependencies. The fleet never shares one
// Orchestrator across issues since Orchestrator.Run is stateful on the
// checkpoint it was constructed with.
type OrchestratorFactory func(issue *hosting.Issue) (*orchestrator.Orchestrator, error)

// Fleet drives a bounded-concurrency run of the Issue Orchestrator across
// many issues.
type Fleet struct {
	Options  *config.Options
	NewOrch  OrchestratorFactory
	Tokens   *tokentracker.Tracker
	Log      *slog.Logger
	// ProgressPath, if set, is where RunAll atomically writes the
	// aggregate Result as JSON after every issue transition, so a
	// long-running fleet has an inspectable live status file.
	ProgressPath string
	// Phases overrides orchestrator.AllPhases. The CLI's --no-pr flag sets
	// this to {1,2,3,4} so implementation and verification still run but
	// phase 5 never launches pr-composer or opens a pull request.
	Phases []int
}

func (f *Fleet) phases() []int {
	if len(f.Phases) == 0 {
		return orchestrator.AllPhases
	}
	return f.Phases
}

func (f *Fleet) log() *slog.Logger {
	if f.Log == nil {
		return slog.Default()
	}
	return f.Log
}

// IssueOutcome is one issue's place in the fleet-wide aggregate.
type IssueOutcome struct {
	IssueNumber  int    `json:"issueNumber"`
	Success      bool   `json:"success"`
	CodeComplete bool   `json:"codeComplete"`
	Branch       string `json:"branch,omitempty"`
	PRNumber     int    `json:"prNumber,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Result is the fleet-wide outcome aggregated across every issue run.
type Result struct {
	Success       bool                  `json:"success"`
	Issues        []IssueOutcome        `json:"issues"`
	PRsCreated    []int                 `json:"prsCreated"`
	FailedIssues  []int                 `json:"failedIssues"`
	CodeDoneNoPR  []IssueOutcome        `json:"codeDoneNoPR"`
	TotalDuration string                `json:"totalDuration"`
	TokenUsage    checkpoint.TokenUsage `json:"tokenUsage"`
}

// RunAll drives every issue in issues through its own Issue Orchestrator,
// bounding concurrency to maxParallelIssues via an errgroup.SetLimit pool,
// and aggregates the outcomes once every issue has settled. A factory
// failure for one issue (e.g. the per-issue checkpoint store fails to
// open) is reported as an issue outcome with IssueNumber 0 and the
// construction error, the same shape as a rejected promise in the spec's
// aggregation rules.
func (f *Fleet) RunAll(ctx context.Context, issues []*hosting.Issue) *Result {
	start := time.Now()
	maxParallel := f.Options.MaxParallelIssues
	if maxParallel < 1 {
		maxParallel = 1
	}

	outcomes := make([]*IssueOutcome, len(issues))
	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(maxParallel)

	for i, issue := range issues {
		i, issue := i, issue
		group.Go(func() error {
			outcome := f.runOne(ctx, issue)

			mu.Lock()
			outcomes[i] = &outcome
			done := settledOutcomes(outcomes)
			mu.Unlock()

			f.writeProgress(done)
			return nil
		})
	}
	_ = group.Wait() // runOne never returns an error; every failure is folded into its IssueOutcome

	result := f.aggregate(settledOutcomes(outcomes))
	result.TotalDuration = time.Since(start).String()
	return result
}

// settledOutcomes returns the outcomes recorded so far, skipping issues
// whose orchestrator run hasn't finished yet.
func settledOutcomes(outcomes []*IssueOutcome) []IssueOutcome {
	done := make([]IssueOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o != nil {
			done = append(done, *o)
		}
	}
	return done
}

// runOne drives a single issue to completion (or failure), converting any
// orchestrator construction error into a rejected-promise-shaped outcome.
func (f *Fleet) runOne(ctx context.Context, issue *hosting.Issue) IssueOutcome {
	orch, err := f.NewOrch(issue)
	if err != nil {
		f.log().Error("failed to construct orchestrator for issue", "issue", issue.Number, "error", err)
		return IssueOutcome{IssueNumber: 0, Error: err.Error()}
	}

	result := orch.Run(ctx, issue, f.phases())

	outcome := IssueOutcome{
		IssueNumber:  result.IssueNumber,
		Success:      result.Success,
		CodeComplete: result.CodeComplete,
		Branch:       result.Branch,
		Error:        result.Error,
	}
	if result.PR != nil {
		outcome.PRNumber = result.PR.Number
	}
	return outcome
}

// aggregate folds per-issue outcomes into the fleet Result: codeDoneNoPR
// is every issue where implementation finished but the run didn't
// ultimately succeed (e.g. integration or PR-creation failed after the
// code was already written).
func (f *Fleet) aggregate(outcomes []IssueOutcome) *Result {
	result := &Result{Success: true, Issues: outcomes}
	for _, o := range outcomes {
		if !o.Success {
			result.Success = false
			result.FailedIssues = append(result.FailedIssues, o.IssueNumber)
			if o.CodeComplete {
				result.CodeDoneNoPR = append(result.CodeDoneNoPR, o)
			}
			continue
		}
		if o.PRNumber != 0 {
			result.PRsCreated = append(result.PRsCreated, o.PRNumber)
		}
	}
	if f.Tokens != nil {
		result.TokenUsage = checkpoint.TokenUsage{
			Total:   f.Tokens.Total(),
			ByPhase: f.Tokens.ByPhase(),
			ByAgent: f.Tokens.ByAgent(),
		}
	}
	return result
}

func (f *Fleet) writeProgress(soFar []IssueOutcome) {
	if f.ProgressPath == "" {
		return
	}
	partial := f.aggregate(soFar)
	data, err := json.MarshalIndent(partial, "", "  ")
	if err != nil {
		f.log().Warn("failed to marshal fleet progress", "error", err)
		return
	}
	if err := util.AtomicWriteFile(f.ProgressPath, data, 0o644); err != nil {
		f.log().Warn("failed to write fleet progress", "path", f.ProgressPath, "error", err)
	}
}
