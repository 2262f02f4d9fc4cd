package git

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const branchPrefix = "cadre"

var (
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9-]`)
	repeatedHyphen = regexp.MustCompile(`-+`)
)

// BranchName returns the branch name for an issue, slugging title when
// present: cadre/issue-<n> or cadre/issue-<n>-<slug>. Total length is
// capped at 100 characters, trimming the slug first.
func BranchName(issueNumber int, title string) string {
	base := fmt.Sprintf("%s/issue-%d", branchPrefix, issueNumber)
	slug := Slugify(title)
	if slug == "" {
		return base
	}
	name := base + "-" + slug
	if len(name) <= 100 {
		return name
	}
	overflow := len(name) - 100
	if overflow >= len(slug) {
		return base
	}
	slug = strings.TrimRight(slug[:len(slug)-overflow], "-")
	if slug == "" {
		return base
	}
	return base + "-" + slug
}

// DepsBranchName returns the name of the transient branch used to merge an
// issue's dependencies before the issue branch is cut.
func DepsBranchName(issueNumber int) string {
	return fmt.Sprintf("%s/deps-%d", branchPrefix, issueNumber)
}

// WorktreeDirName returns the directory name for an issue's worktree.
func WorktreeDirName(issueNumber int) string {
	return fmt.Sprintf("issue-%d", issueNumber)
}

// WorktreePath joins root with the issue's worktree directory name.
func WorktreePath(root string, issueNumber int) string {
	return filepath.Join(root, WorktreeDirName(issueNumber))
}

// Slugify lowercases s, replaces runs of non [a-z0-9] with a single hyphen,
// and trims leading/trailing hyphens.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = repeatedHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
