package orchestrator

import (
	"context"
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

// scriptedLauncher plays back one canned artifact per agent role, so a
// full five-phase run exercises every phase executor without spawning a
// real agent binary.
type scriptedLauncher struct {
	calls []string
}

func (l *scriptedLauncher) Launch(_ context.Context, req agent.Request) (*agent.Result, error) {
	l.calls = append(l.calls, req.Agent)

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

// stubHosting implements hosting.Provider with just enough behavior for
// the pull request phase and the ambiguity-notification path; every other
// method is unused by the orchestrator and errors if called.
type stubHosting struct {
	prs      []hosting.PR
	comments []string
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
func (s *stubHosting) DeleteBranch(context.Context, string) error { return nil }
func (s *stubHosting) ApplyLabels(context.Context, int, []string) error { return nil }
func (s *stubHosting) EnsureLabel(context.Context, string, string, string) error { return nil }
func (s *stubHosting) GetIssue(context.Context, int) (*hosting.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubHosting) ListIssues(context.Context, hosting.IssueFilter) ([]hosting.Issue, error) {
	return nil, nil
}
func (s *stubHosting) AddIssueComment(_ context.Context, _ int, body string) error {
	s.comments = append(s.comments, body)
	return nil
}
func (s *stubHosting) CheckAuth(context.Context) error   { return nil }
func (s *stubHosting) Name() hosting.ProviderType        { return hosting.ProviderGitHub }
func (s *stubHosting) OwnerRepo() (string, string)       { return "acme", "widgets" }

func newOrchestrator(t *testing.T, launcher agent.Launcher, hostingProvider hosting.Provider) (*Orchestrator, *hosting.Issue) {
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

	o := &Orchestrator{
		Options:    opts,
		Checkpoint: cp,
		Repo:       repo,
		Worktrees:  mgr,
		Hosting:    hostingProvider,
		Launcher:   launcher,
	}

	issue := &hosting.Issue{Number: 7, Title: "Add a widget", Body: "We need a widget.", State: "open"}
	return o, issue
}

func TestRunDrivesAllFivePhasesToSuccess(t *testing.T) {
	launcher := &scriptedLauncher{}
	hostingStub := &stubHosting{}
	o, issue := newOrchestrator(t, launcher, hostingStub)

	result := o.Run(context.Background(), issue, AllPhases)

	require.Empty(t, result.Error)
	require.True(t, result.Success)
	require.True(t, result.CodeComplete)
	require.Equal(t, AllPhases, result.Phases)
	require.NotNil(t, result.PR)
	require.Len(t, hostingStub.prs, 1)
	require.Contains(t, launcher.calls, "issue-analyst")
	require.Contains(t, launcher.calls, "pr-composer")
}

func TestRunSkipsPhasesAlreadyCompleted(t *testing.T) {
	launcher := &scriptedLauncher{}
	o, issue := newOrchestrator(t, launcher, &stubHosting{})

	// Pretend phases 1 and 2 already ran in a prior process.
	require.NoError(t, o.Checkpoint.RecordGateResult(1, checkpoint.GateResult{Status: checkpoint.GateStatusPass}))
	require.NoError(t, o.Checkpoint.CompletePhase(1))
	require.NoError(t, o.Checkpoint.RecordGateResult(2, checkpoint.GateResult{Status: checkpoint.GateStatusPass}))
	require.NoError(t, o.Checkpoint.CompletePhase(2))

	result := o.Run(context.Background(), issue, AllPhases)

	require.Empty(t, result.Error)
	require.True(t, result.Success)
	require.NotContains(t, launcher.calls, "issue-analyst")
	require.NotContains(t, launcher.calls, "implementation-planner")
	require.Contains(t, launcher.calls, "pr-composer")
}

// failingAnalysisLauncher never produces analysis.md and reports every
// launch as failed, so Phase 1 fails every execution attempt and the
// orchestrator aborts before any gate is evaluated.
type failingAnalysisLauncher struct{}

func (failingAnalysisLauncher) Launch(_ context.Context, req agent.Request) (*agent.Result, error) {
	return &agent.Result{Agent: req.Agent, Success: false, Error: "boom"}, nil
}

func TestRunAbortsWhenPhaseOneNeverProducesAnalysis(t *testing.T) {
	o, issue := newOrchestrator(t, failingAnalysisLauncher{}, &stubHosting{})

	result := o.Run(context.Background(), issue, AllPhases)

	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
	require.False(t, o.Checkpoint.IsPhaseCompleted(1))
}

// ambiguityLauncher produces an analysis.md whose "## Ambiguities" section
// has more items than any reasonable threshold, so the orchestrator's
// ambiguity halt fires after phase 1 completes.
type ambiguityLauncher struct {
	calls []string
}

func (l *ambiguityLauncher) Launch(_ context.Context, req agent.Request) (*agent.Result, error) {
	l.calls = append(l.calls, req.Agent)

	var body string
	switch req.Agent {
	case "issue-analyst":
		body = "# Analysis\n\n## Requirements\n\nAdd a widget.\n\n## Change Type\n\nfeature\n\n## Scope\n\nsmall\n\n" +
			"## Ambiguities\n\n- What widget size?\n- What color scheme?\n- Which API should it call?\n"
	case "codebase-scout":
		body = "# Scout Report\n\nRelevant file: pkg/widget.go\n"
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

func countCalls(calls []string, agent string) int {
	n := 0
	for _, c := range calls {
		if c == agent {
			n++
		}
	}
	return n
}

func TestRunHaltsOnAmbiguityAfterCompletingPhaseOne(t *testing.T) {
	launcher := &ambiguityLauncher{}
	hostingStub := &stubHosting{}
	o, issue := newOrchestrator(t, launcher, hostingStub)
	o.Options.AmbiguityThreshold = 1
	o.Options.HaltOnAmbiguity = true

	result := o.Run(context.Background(), issue, AllPhases)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "ambiguities exceed threshold")
	require.Equal(t, []int{1}, result.Phases)
	require.True(t, o.Checkpoint.IsPhaseCompleted(1))

	// Phase 1's own gate must not have retried the analysis agents: the
	// over-threshold ambiguity count is a halt, not a gate failure.
	require.Equal(t, 1, countCalls(launcher.calls, "issue-analyst"))
	require.Equal(t, 1, countCalls(launcher.calls, "codebase-scout"))

	// The halt fires before phase 2 ever starts.
	require.NotContains(t, launcher.calls, "implementation-planner")

	require.Len(t, hostingStub.comments, 1)
}
