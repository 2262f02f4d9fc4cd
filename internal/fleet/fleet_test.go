package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/cadre/internal/agent"
	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/orchestrator"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "widget.go"), []byte("package pkg\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")

	bare := filepath.Join(t.TempDir(), "origin.git")
	bareCmd := exec.Command("git", "init", "--bare", "-b", "main", bare)
	out, err := bareCmd.CombinedOutput()
	require.NoErrorf(t, err, "git init --bare: %s", out)
	run("remote", "add", "origin", bare)
	run("push", "origin", "main")

	return dir
}

// scriptedLauncher plays back one canned artifact per agent role, mirroring
// the orchestrator package's own test fake, so a fleet of Orchestrators can
// run the whole five-phase pipeline without spawning a real agent binary.
type scriptedLauncher struct{}

func (scriptedLauncher) Launch(_ context.Context, req agent.Request) (*agent.Result, error) {
	var body string
	switch req.Agent {
	case "issue-analyst":
		body = "# Analysis\n\n## Requirements\n\nAdd a widget.\n\n## Change Type\n\nfeature\n\n## Scope\n\nsmall\n\n## Ambiguities\n\n_None_\n"
	case "codebase-scout":
		body = "# Scout Report\n\nRelevant file: pkg/widget.go\n"
	case "implementation-planner":
		body = "# Implementation Plan\n\n```json cadre-tasks\n" +
			`{"tasks":[{"id":"T1","name":"Add widget","description":"Implement the widget","files":["pkg/widget.go"],"dependencies":[],"acceptanceCriteria":["compiles"]}]}` +
			"\n```\n"
	case "code-writer", "test-writer", "fix-surgeon":
		body = "done\n"
	case "code-reviewer":
		body = "## Review\n\nVerdict: pass\n"
	case "pr-composer":
		body = "# Add a widget\n\nLabels: enhancement\n\nImplements the requested widget.\n"
	default:
		body = "ok\n"
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.OutputPath, []byte(body), 0o644); err != nil {
		return nil, err
	}
	return &agent.Result{Agent: req.Agent, Success: true, ExitCode: 0, OutputPath: req.OutputPath, OutputExists: true}, nil
}

// failingLauncher fails every invocation, so any issue wired to it never
// gets past Phase 1 and never reaches CodeComplete.
type failingLauncher struct{}

func (failingLauncher) Launch(_ context.Context, req agent.Request) (*agent.Result, error) {
	return &agent.Result{Agent: req.Agent, Success: false, Error: "boom"}, nil
}

// stubHosting implements hosting.Provider with just enough behavior for the
// pull request phase; every other method is unused by the orchestrator.
type stubHosting struct {
	prs []hosting.PR
}

func (s *stubHosting) CreatePR(_ context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	pr := hosting.PR{Number: len(s.prs) + 1, Title: opts.Title, Body: opts.Body, HeadBranch: opts.Head, BaseBranch: opts.Base}
	s.prs = append(s.prs, pr)
	return &pr, nil
}
func (s *stubHosting) GetPR(context.Context, int) (*hosting.PR, error) { return nil, fmt.Errorf("not implemented") }
func (s *stubHosting) UpdatePR(context.Context, int, hosting.PRUpdateOptions) error { return nil }
func (s *stubHosting) MergePR(context.Context, int, hosting.PRMergeOptions) error   { return nil }
func (s *stubHosting) FindPRByBranch(context.Context, string) (*hosting.PR, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) ListPRComments(context.Context, int) ([]hosting.PRComment, error) { return nil, nil }
func (s *stubHosting) CreatePRComment(context.Context, int, hosting.PRCommentCreate) (*hosting.PRComment, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) ReplyToComment(context.Context, int, int64, string) (*hosting.PRComment, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) GetPRComment(context.Context, int64) (*hosting.PRComment, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) ListPRReviewComments(context.Context, int) ([]hosting.ReviewThread, error) {
	return nil, nil
}
func (s *stubHosting) GetCheckRuns(context.Context, string) ([]hosting.CheckRun, error) { return nil, nil }
func (s *stubHosting) GetPRReviews(context.Context, int) ([]hosting.PRReview, error)    { return nil, nil }
func (s *stubHosting) ApprovePR(context.Context, int, string) error                     { return nil }
func (s *stubHosting) GetPRStatusSummary(context.Context, *hosting.PR) (*hosting.PRStatusSummary, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) DeleteBranch(context.Context, string) error                  { return nil }
func (s *stubHosting) ApplyLabels(context.Context, int, []string) error            { return nil }
func (s *stubHosting) EnsureLabel(context.Context, string, string, string) error    { return nil }
func (s *stubHosting) GetIssue(context.Context, int) (*hosting.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) ListIssues(context.Context, hosting.IssueFilter) ([]hosting.Issue, error) {
	return nil, nil
}
func (s *stubHosting) AddIssueComment(context.Context, int, string) error { return nil }
func (s *stubHosting) CheckAuth(context.Context) error                   { return nil }
func (s *stubHosting) Name() hosting.ProviderType                       { return hosting.ProviderGitHub }
func (s *stubHosting) OwnerRepo() (string, string)                     { return "acme", "widgets" }

// newTestOrchestrator builds a real Orchestrator backed by its own temp git
// repo, worktree manager, and checkpoint store, the same fixture shape as
// internal/orchestrator's own tests, since OrchestratorFactory must return a
// concrete *orchestrator.Orchestrator.
func newTestOrchestrator(t *testing.T, launcher agent.Launcher, hostingProvider hosting.Provider) *orchestrator.Orchestrator {
	t.Helper()
	repoDir := initRepo(t)
	repo, err := git.Open(repoDir)
	require.NoError(t, err)

	worktreeRoot := filepath.Join(t.TempDir(), "worktrees")
	mgr, err := git.NewManager(repo, worktreeRoot, "main", nil)
	require.NoError(t, err)

	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cp, err := checkpoint.Open(cpPath)
	require.NoError(t, err)

	opts := config.Defaults()
	opts.ProgressRoot = filepath.Join(t.TempDir(), "progress")
	opts.Commands = config.CommandOptions{}
	opts.PerTaskBuildCheck = false
	opts.CommitPerTask = true
	opts.BuildVerification = false
	opts.TestVerification = false

	return &orchestrator.Orchestrator{
		Options:    opts,
		Checkpoint: cp,
		Repo:       repo,
		Worktrees:  mgr,
		Hosting:    hostingProvider,
		Launcher:   launcher,
	}
}

func TestFleetPhasesDefaultsToAllPhasesWhenUnset(t *testing.T) {
	f := &Fleet{}
	require.Equal(t, orchestrator.AllPhases, f.phases())
}

func TestFleetPhasesHonorsOverride(t *testing.T) {
	f := &Fleet{Phases: []int{1, 2, 3, 4}}
	require.Equal(t, []int{1, 2, 3, 4}, f.phases())
}

func TestRunAllAggregatesSuccessfulIssues(t *testing.T) {
	f := &Fleet{
		Options: &config.Options{MaxParallelIssues: 2},
		NewOrch: func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
			return newTestOrchestrator(t, scriptedLauncher{}, &stubHosting{}), nil
		},
	}

	issues := []*hosting.Issue{
		{Number: 1, Title: "Add a widget", Body: "widget 1"},
		{Number: 2, Title: "Add another widget", Body: "widget 2"},
		{Number: 3, Title: "Add a third widget", Body: "widget 3"},
	}

	result := f.RunAll(context.Background(), issues)

	require.True(t, result.Success)
	require.Len(t, result.Issues, 3)
	require.Len(t, result.PRsCreated, 3)
	require.Empty(t, result.FailedIssues)
	require.Empty(t, result.CodeDoneNoPR)
}

func TestRunAllReportsFactoryConstructionFailureAsRejectedOutcome(t *testing.T) {
	f := &Fleet{
		Options: &config.Options{MaxParallelIssues: 1},
		NewOrch: func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
			if issue.Number == 2 {
				return nil, fmt.Errorf("checkpoint store busy")
			}
			return newTestOrchestrator(t, scriptedLauncher{}, &stubHosting{}), nil
		},
	}

	issues := []*hosting.Issue{
		{Number: 1, Title: "Add a widget", Body: "widget 1"},
		{Number: 2, Title: "Add a widget", Body: "widget 2"},
	}

	result := f.RunAll(context.Background(), issues)

	require.False(t, result.Success)
	require.Len(t, result.Issues, 2)

	var rejected *IssueOutcome
	for i := range result.Issues {
		if result.Issues[i].IssueNumber == 0 {
			rejected = &result.Issues[i]
		}
	}
	require.NotNil(t, rejected)
	require.Contains(t, rejected.Error, "checkpoint store busy")
	require.Contains(t, result.FailedIssues, 0)
}

func TestRunAllLeavesPhaseOneFailureOutOfCodeDoneNoPR(t *testing.T) {
	f := &Fleet{
		Options: &config.Options{MaxParallelIssues: 1},
		NewOrch: func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
			return newTestOrchestrator(t, failingLauncher{}, &stubHosting{}), nil
		},
	}

	issues := []*hosting.Issue{{Number: 9, Title: "Add a widget", Body: "widget"}}

	result := f.RunAll(context.Background(), issues)

	require.False(t, result.Success)
	require.Len(t, result.FailedIssues, 1)
	// Phase 1 itself fails here (analysis.md never materializes), so the
	// issue never reaches CodeComplete; codeDoneNoPR stays empty.
	require.Empty(t, result.CodeDoneNoPR)
}

func TestRunAllWritesProgressFile(t *testing.T) {
	progressPath := filepath.Join(t.TempDir(), "progress.json")
	f := &Fleet{
		Options: &config.Options{MaxParallelIssues: 2},
		NewOrch: func(issue *hosting.Issue) (*orchestrator.Orchestrator, error) {
			return newTestOrchestrator(t, scriptedLauncher{}, &stubHosting{}), nil
		},
		ProgressPath: progressPath,
	}

	issues := []*hosting.Issue{
		{Number: 1, Title: "Add a widget", Body: "widget 1"},
		{Number: 2, Title: "Add another widget", Body: "widget 2"},
	}

	result := f.RunAll(context.Background(), issues)
	require.True(t, result.Success)

	data, err := os.ReadFile(progressPath)
	require.NoError(t, err)
	var written Result
	require.NoError(t, json.Unmarshal(data, &written))
	require.Len(t, written.Issues, 2)
}
