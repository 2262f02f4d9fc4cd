package phase

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/cadre/internal/hosting"
)

// issueSnapshot is the on-disk shape of issue.json: a frozen copy of the
// tracker issue as it looked when analysis began.
type issueSnapshot struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels,omitempty"`
	CreatedAt string   `json:"createdAt"`
}

// AnalysisResult is the artifact path and baseline captured by Phase 1.
type AnalysisResult struct {
	AnalysisPath string
	ScoutPath    string
	Baseline     BaselineResults
}

const cadreDir = ".cadre"

// RunAnalysis ensures the progress directory, snapshots the issue and the
// repo file tree, launches issue-analyst then codebase-scout, and captures
// a build/test baseline with maxFixRounds=0. Baseline capture failures are
// logged, not propagated — only the agent launches are hard failures.
func RunAnalysis(ctx context.Context, env *Env, issue *hosting.Issue) (*AnalysisResult, error) {
	snapshot := issueSnapshot{
		Number:    issue.Number,
		Title:     issue.Title,
		Body:      issue.Body,
		Labels:    issue.Labels,
		CreatedAt: issue.CreatedAt,
	}
	if err := writeJSON(env.artifact("issue.json"), snapshot); err != nil {
		return nil, err
	}

	tree, err := fileTree(env.WorktreePath)
	if err != nil {
		env.log().Warn("failed to enumerate repo file tree", "error", err)
	} else if err := writeTextFile(env.artifact("repo-file-tree.txt"), tree); err != nil {
		env.log().Warn("failed to write repo-file-tree.txt", "error", err)
	}

	if _, err := env.launch(ctx, 1, "issue-analyst", env.artifact("issue.json"), "analysis.md"); err != nil {
		return nil, err
	}
	if _, err := env.launch(ctx, 1, "codebase-scout", env.artifact("analysis.md"), "scout-report.md"); err != nil {
		return nil, err
	}

	baseline := captureBaseline(ctx, env)
	if err := writeJSON(filepath.Join(env.WorktreePath, cadreDir, "baseline-results.json"), baseline); err != nil {
		env.log().Warn("failed to persist baseline results", "error", err)
	}

	return &AnalysisResult{
		AnalysisPath: env.artifact("analysis.md"),
		ScoutPath:    env.artifact("scout-report.md"),
		Baseline:     baseline,
	}, nil
}

// captureBaseline runs the configured build and test commands exactly
// once (maxFixRounds=0) to establish the pre-existing failure set that
// Phase 4 will diff new failures against. Errors running the commands
// themselves (not command failures) are logged and yield a zero baseline.
func captureBaseline(ctx context.Context, env *Env) BaselineResults {
	var baseline BaselineResults

	timeout := time.Duration(env.Options.Agent.TimeoutSeconds) * time.Second

	if len(env.Options.Commands.Build) > 0 {
		result, err := RunCommand(ctx, env.WorktreePath, env.Options.Commands.Build, timeout)
		if err != nil {
			env.log().Warn("baseline build command errored", "error", err)
		} else {
			baseline.BuildExitCode = result.ExitCode
			if !result.Passed() {
				baseline.BuildFailures = splitLines(result.Stdout + result.Stderr)
			}
		}
	}

	if len(env.Options.Commands.Test) > 0 {
		result, err := RunCommand(ctx, env.WorktreePath, env.Options.Commands.Test, timeout)
		if err != nil {
			env.log().Warn("baseline test command errored", "error", err)
		} else {
			baseline.TestExitCode = result.ExitCode
			if !result.Passed() {
				baseline.TestFailures = splitLines(result.Stdout + result.Stderr)
			}
		}
	}

	return baseline
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// fileTree walks root and returns a sorted, newline-joined list of
// repo-relative paths, excluding .cadre/ and .git/.
func fileTree(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if d.IsDir() && (base == cadreDir || base == ".git") {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n") + "\n", nil
}
