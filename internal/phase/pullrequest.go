package phase

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/randalmurphal/cadre/internal/hosting"
)

// PullRequestResult is Phase 5's artifact.
type PullRequestResult struct {
	PR *hosting.PR
}

// prContent is the parsed shape of pr-content.md: a title line, a labels
// line, and everything else as the body.
type prContent struct {
	Title  string
	Body   string
	Labels []string
}

var (
	prTitleLine  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	prLabelsLine = regexp.MustCompile(`(?mi)^labels:\s*(.+)$`)
)

// RunPullRequest launches pr-composer, parses its pr-content.md output,
// optionally squashes the branch's commits, pushes, and opens the PR
// through the hosting provider, applying labels afterward.
func RunPullRequest(ctx context.Context, env *Env, branch, base string, squash bool) (*PullRequestResult, error) {
	if _, err := env.launch(ctx, 5, "pr-composer", env.artifact("integration-report.md"), "pr-content.md"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(env.artifact("pr-content.md"))
	if err != nil {
		return nil, fmt.Errorf("read pr-content.md: %w", err)
	}
	content := parsePRContent(string(data))

	repo := env.Repo.At(env.WorktreePath)
	if squash {
		if err := squashBranch(repo, base, content.Title); err != nil {
			env.log().Warn("squash failed, pushing branch as-is", "error", err)
		}
	}

	if err := repo.Push("origin", branch, true); err != nil {
		return nil, fmt.Errorf("push branch %s: %w", branch, err)
	}

	pr, err := env.Hosting.CreatePR(ctx, hosting.PRCreateOptions{
		Title: content.Title,
		Body:  content.Body,
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	if len(content.Labels) > 0 {
		if err := env.Hosting.ApplyLabels(ctx, pr.Number, content.Labels); err != nil {
			env.log().Warn("failed to apply labels", "pr", pr.Number, "error", err)
		}
	}

	return &PullRequestResult{PR: pr}, nil
}

func parsePRContent(markdown string) prContent {
	content := prContent{Title: "Automated change", Body: markdown}

	if m := prTitleLine.FindStringSubmatch(markdown); m != nil {
		content.Title = strings.TrimSpace(m[1])
	}
	if m := prLabelsLine.FindStringSubmatch(markdown); m != nil {
		for _, label := range strings.Split(m[1], ",") {
			label = strings.TrimSpace(label)
			if label != "" {
				content.Labels = append(content.Labels, label)
			}
		}
	}

	body := prTitleLine.ReplaceAllString(markdown, "")
	body = prLabelsLine.ReplaceAllString(body, "")
	content.Body = strings.TrimSpace(body)
	return content
}

// squashBranch collapses every commit ahead of base into one: a soft
// reset to base keeps the working tree and index as-is, then a single
// commit recreates the branch tip, avoiding an interactive rebase.
func squashBranch(repo interface {
	CommitCounts(string) (int, int, error)
	ResetSoft(string) error
	Commit(string) error
}, base, title string) error {
	ahead, _, err := repo.CommitCounts(base)
	if err != nil {
		return err
	}
	if ahead <= 1 {
		return nil
	}
	if err := repo.ResetSoft(base); err != nil {
		return err
	}
	return repo.Commit(title)
}
