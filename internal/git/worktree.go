package git

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorktreeInfo describes an active git worktree as reported by
// `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	Commit string
}

// Worktree describes a provisioned issue worktree.
type Worktree struct {
	IssueNumber int
	Path        string
	Branch      string
	BaseCommit  string
}

// RebaseResult is the outcome of RebaseStart/RebaseContinue.
type RebaseResult struct {
	Clean           bool
	Conflict        bool
	ConflictedFiles []string
	WorktreePath    string
	Err             error
}

// Manager provisions and tears down one worktree per issue from a shared
// repository checkout, with a deterministic branch naming scheme and
// explicit conflict-resume semantics for rebases.
//
// All compound operations (those composed of more than one git invocation)
// hold mu for their duration, so concurrent Manager calls from a fleet of
// issue workers never interleave on the same underlying checkout.
type Manager struct {
	mu     sync.Mutex
	repo   *Repo
	root   string
	base   string
	remote string
	log    *slog.Logger
}

// NewManager constructs a Manager rooted at repo, provisioning worktrees
// under root (created if missing) and basing new branches on the named
// base branch (e.g. "main").
func NewManager(repo *Repo, root, base string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree root: %w", err)
	}
	return &Manager{repo: repo, root: root, base: base, remote: "origin", log: log}, nil
}

func (m *Manager) path(issueNumber int) string {
	return WorktreePath(m.root, issueNumber)
}

// baseRef returns origin/<base> when the remote ref resolves, else the
// local base branch. Fetch failures are advisory: they are logged and the
// provision proceeds against whatever refs are already present locally.
func (m *Manager) baseRef() string {
	if err := m.repo.Fetch(m.remote); err != nil {
		m.log.Warn("fetch failed, using local refs", "remote", m.remote, "error", err)
	}
	remoteRef := m.remote + "/" + m.base
	if m.repo.BranchExists(remoteRef) {
		return remoteRef
	}
	return m.base
}

// Provision returns the existing worktree for issueNumber if the target
// path is already populated, else creates one on BranchName(n, title)
// rooted at the resolved base ref. When resume is true and no
// matching remote branch exists, it fails with RemoteBranchMissingError.
func (m *Manager) Provision(issueNumber int, title string, resume bool) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return m.describe(issueNumber, path)
	}

	branch := BranchName(issueNumber, title)
	base := m.baseRef()

	if resume {
		remoteBranch := m.remote + "/" + branch
		if !m.repo.BranchExists(remoteBranch) {
			return nil, &RemoteBranchMissingError{Branch: branch}
		}
		return m.addWorktree(issueNumber, path, branch, remoteBranch, true)
	}

	return m.addWorktree(issueNumber, path, branch, base, false)
}

// ProvisionWithDeps builds a transient deps-<n> branch from base, merges
// each dependency branch into it in order, cuts the issue branch from the
// merged HEAD, then adds the worktree. On a merge conflict the transient
// branch is left in place for inspection and DependencyMergeConflictError
// is returned.
func (m *Manager) ProvisionWithDeps(issueNumber int, title string, depBranches []string, depIssues []int) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return m.describe(issueNumber, path)
	}

	base := m.baseRef()
	depsBranch := DepsBranchName(issueNumber)

	if m.repo.BranchExists(depsBranch) {
		if err := m.repo.DeleteBranch(depsBranch, true); err != nil {
			return nil, fmt.Errorf("remove stale deps branch: %w", err)
		}
	}
	if err := m.repo.CreateBranch(depsBranch, base); err != nil {
		return nil, fmt.Errorf("create deps branch: %w", err)
	}

	scratch := m.repo.At(m.repo.RepoPath())
	prevBranch, err := scratch.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("get current branch: %w", err)
	}
	defer func() { _, _ = scratch.run("checkout", prevBranch) }()

	if _, err := scratch.run("checkout", depsBranch); err != nil {
		return nil, fmt.Errorf("checkout deps branch: %w", err)
	}

	for i, depBranch := range depBranches {
		if _, err := scratch.run("merge", "--no-ff", "--no-edit", depBranch); err != nil {
			conflicted := scratch.ConflictedFiles()
			_, _ = scratch.run("merge", "--abort")
			depIssue := 0
			if i < len(depIssues) {
				depIssue = depIssues[i]
			}
			return nil, &DependencyMergeConflictError{DepIssue: depIssue, ConflictedFiles: conflicted}
		}
	}

	branch := BranchName(issueNumber, title)
	if err := m.repo.CreateBranch(branch, depsBranch); err != nil {
		return nil, fmt.Errorf("create issue branch: %w", err)
	}

	return m.addWorktree(issueNumber, path, branch, branch, false)
}

// ProvisionFromBranch adopts an existing remote branch: fetches, then adds
// the worktree tracking origin/branch.
func (m *Manager) ProvisionFromBranch(issueNumber int, branch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return m.describe(issueNumber, path)
	}

	if err := m.repo.Fetch(m.remote); err != nil {
		m.log.Warn("fetch failed, using local refs", "remote", m.remote, "error", err)
	}
	remoteBranch := m.remote + "/" + branch
	if _, err := m.repo.run("worktree", "add", "-B", branch, path, remoteBranch); err != nil {
		return nil, fmt.Errorf("add worktree from branch: %w", err)
	}
	return m.describe(issueNumber, path)
}

func (m *Manager) addWorktree(issueNumber int, path, branch, startPoint string, track bool) (*Worktree, error) {
	var err error
	if track {
		_, err = m.repo.run("worktree", "add", "-B", branch, path, startPoint)
	} else if m.repo.BranchExists(branch) {
		_, err = m.repo.run("worktree", "add", path, branch)
	} else {
		_, err = m.repo.run("worktree", "add", "-b", branch, path, startPoint)
	}
	if err != nil {
		return nil, fmt.Errorf("add worktree: %w", err)
	}
	return m.describe(issueNumber, path)
}

func (m *Manager) describe(issueNumber int, path string) (*Worktree, error) {
	wt := m.repo.At(path)
	branch, err := wt.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("get worktree branch: %w", err)
	}
	commit, err := wt.HeadCommit()
	if err != nil {
		return nil, fmt.Errorf("get worktree head: %w", err)
	}
	return &Worktree{IssueNumber: issueNumber, Path: path, Branch: branch, BaseCommit: commit}, nil
}

// RebaseStart fetches origin/<base> (skipped when a rebase is already
// paused in the worktree) and attempts to rebase onto it, reporting any
// conflicted files.
func (m *Manager) RebaseStart(issueNumber int) (*RebaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	wt := m.repo.At(path)

	paused, err := wt.RebaseInProgress()
	if err != nil {
		return nil, fmt.Errorf("probe rebase state: %w", err)
	}

	remoteRef := m.remote + "/" + m.base
	if !paused {
		if err := m.repo.Fetch(m.remote); err != nil {
			m.log.Warn("fetch failed, using local refs", "remote", m.remote, "error", err)
		}
		if !wt.BranchExists(remoteRef) {
			remoteRef = m.base
		}
		if _, rerr := wt.run("rebase", remoteRef); rerr != nil {
			return m.rebaseConflictResult(wt, path), nil
		}
		return &RebaseResult{Clean: true, WorktreePath: path}, nil
	}

	return m.rebaseConflictResult(wt, path), nil
}

func (m *Manager) rebaseConflictResult(wt *Repo, path string) *RebaseResult {
	conflicted := wt.ConflictedFiles()
	if len(conflicted) == 0 {
		return &RebaseResult{Clean: true, WorktreePath: path}
	}
	return &RebaseResult{Conflict: true, ConflictedFiles: conflicted, WorktreePath: path}
}

// RebaseContinue stages all changes and continues a paused rebase with a
// non-interactive editor override. An error indicating no rebase is in
// progress is treated as success.
func (m *Manager) RebaseContinue(issueNumber int) *RebaseResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	wt := m.repo.At(path)

	if err := wt.StageAll(); err != nil {
		return &RebaseResult{WorktreePath: path, Err: err}
	}

	out, err := wt.runner.Run(path, "git", "-c", "core.editor=true", "rebase", "--continue")
	if err == nil {
		return &RebaseResult{Clean: true, WorktreePath: path}
	}
	if containsNoRebaseInProgress(err.Error()) || containsNoRebaseInProgress(out) {
		return &RebaseResult{Clean: true, WorktreePath: path}
	}

	conflicted := wt.ConflictedFiles()
	if len(conflicted) > 0 {
		return &RebaseResult{Conflict: true, ConflictedFiles: conflicted, WorktreePath: path}
	}
	return &RebaseResult{WorktreePath: path, Err: err}
}

// RebaseAbort best-effort aborts a paused rebase; it never returns an
// error since callers treat it as unconditional cleanup.
func (m *Manager) RebaseAbort(issueNumber int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	_, _ = m.repo.runner.Run(path, "git", "rebase", "--abort")
}

// ListActive returns worktrees under the manager root whose directory name
// matches the issue-<n> naming convention.
func (m *Manager) ListActive() ([]Worktree, error) {
	out, err := m.repo.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	infos := parseWorktreeList(out)
	var active []Worktree
	for _, info := range infos {
		abs, err := filepath.Abs(info.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(m.root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(filepath.Base(abs), "issue-%d", &n); err != nil {
			continue
		}
		active = append(active, Worktree{IssueNumber: n, Path: abs, Branch: info.Branch, BaseCommit: info.Commit})
	}
	return active, nil
}

// Cleanup removes the worktree for issueNumber, forcing removal if the
// plain remove is refused due to untracked/modified content.
func (m *Manager) Cleanup(issueNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(issueNumber)
	if _, err := m.repo.run("worktree", "remove", path); err != nil {
		if _, err := m.repo.run("worktree", "remove", "--force", path); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	return nil
}

// Prune removes stale worktree administrative metadata left behind by
// directories deleted outside of git.
func (m *Manager) Prune() error {
	_, err := m.repo.run("worktree", "prune")
	return err
}

func parseWorktreeList(output string) []WorktreeInfo {
	var result []WorktreeInfo
	var cur WorktreeInfo
	flush := func() {
		if cur.Path != "" {
			result = append(result, cur)
			cur = WorktreeInfo{}
		}
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			cur.Branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "detached":
			cur.Branch = "(detached)"
		}
	}
	flush()
	return result
}

func containsNoRebaseInProgress(s string) bool {
	return strings.Contains(strings.ToLower(s), "no rebase in progress")
}
