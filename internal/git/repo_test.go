package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func TestOpenRejectsNonRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	require.ErrorIs(t, err, ErrNotGitRepo)
}

func TestOpenAndBasics(t *testing.T) {
	dir := initRepo(t)
	r, err := Open(dir)
	require.NoError(t, err)

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	clean, err := r.IsClean()
	require.NoError(t, err)
	require.True(t, clean)

	require.True(t, r.BranchExists("main"))
	require.False(t, r.BranchExists("does-not-exist"))
}

func TestCommitNothingStaged(t *testing.T) {
	dir := initRepo(t)
	r, err := Open(dir)
	require.NoError(t, err)

	err = r.Commit("empty")
	require.ErrorIs(t, err, ErrNothingToCommit)
}

func TestCreateAndDeleteBranch(t *testing.T) {
	dir := initRepo(t)
	r, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("feature", ""))
	require.True(t, r.BranchExists("feature"))
	require.NoError(t, r.DeleteBranch("feature", false))
	require.False(t, r.BranchExists("feature"))
}

func TestRebaseAndMergeInProgressFalseOnCleanRepo(t *testing.T) {
	dir := initRepo(t)
	r, err := Open(dir)
	require.NoError(t, err)

	inRebase, err := r.RebaseInProgress()
	require.NoError(t, err)
	require.False(t, inRebase)

	inMerge, err := r.MergeInProgress()
	require.NoError(t, err)
	require.False(t, inMerge)
}
