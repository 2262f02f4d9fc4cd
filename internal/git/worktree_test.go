package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repoDir := initRepo(t)
	r, err := Open(repoDir)
	require.NoError(t, err)

	root := filepath.Join(t.TempDir(), "worktrees")
	m, err := NewManager(r, root, "main", nil)
	require.NoError(t, err)
	return m, repoDir
}

func TestProvisionCreatesWorktreeOnNewBranch(t *testing.T) {
	m, _ := newManager(t)

	wt, err := m.Provision(42, "Add login flow", false)
	require.NoError(t, err)
	require.Equal(t, "cadre/issue-42-add-login-flow", wt.Branch)
	require.DirExists(t, wt.Path)
}

func TestProvisionIsIdempotent(t *testing.T) {
	m, _ := newManager(t)

	first, err := m.Provision(1, "", false)
	require.NoError(t, err)

	second, err := m.Provision(1, "", false)
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
	require.Equal(t, first.Branch, second.Branch)
}

func TestProvisionResumeMissingRemoteBranch(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Provision(5, "", true)
	require.Error(t, err)
	var missing *RemoteBranchMissingError
	require.ErrorAs(t, err, &missing)
}

func TestProvisionWithDepsConflict(t *testing.T) {
	m, repoDir := newManager(t)

	runGit := func(dir string, args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	// dep branch A changes README one way
	runGit(repoDir, "checkout", "-b", "dep-a")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("dep-a\n"), 0o644))
	runGit(repoDir, "commit", "-am", "dep-a change")

	// dep branch B changes README a conflicting way
	runGit(repoDir, "checkout", "main")
	runGit(repoDir, "checkout", "-b", "dep-b")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("dep-b\n"), 0o644))
	runGit(repoDir, "commit", "-am", "dep-b change")

	runGit(repoDir, "checkout", "main")

	_, err := m.ProvisionWithDeps(9, "merged feature", []string{"dep-a", "dep-b"}, []int{10, 11})
	require.Error(t, err)
	var conflict *DependencyMergeConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 11, conflict.DepIssue)
	require.Contains(t, conflict.ConflictedFiles, "README.md")

	// transient branch preserved for inspection
	require.True(t, m.repo.BranchExists(DepsBranchName(9)))
}

func TestRebaseStartCleanWhenUpToDate(t *testing.T) {
	m, _ := newManager(t)

	wt, err := m.Provision(2, "", false)
	require.NoError(t, err)

	result, err := m.RebaseStart(wt.IssueNumber)
	require.NoError(t, err)
	require.True(t, result.Clean)
}

func TestListActiveFiltersByRoot(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Provision(3, "", false)
	require.NoError(t, err)
	_, err = m.Provision(4, "", false)
	require.NoError(t, err)

	active, err := m.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestRebaseAbortNeverErrors(t *testing.T) {
	m, _ := newManager(t)
	wt, err := m.Provision(6, "", false)
	require.NoError(t, err)
	m.RebaseAbort(wt.IssueNumber)
}
