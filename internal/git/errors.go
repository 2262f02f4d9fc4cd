package git

import (
	"errors"
	"strconv"
)

var (
	// ErrNotGitRepo indicates the path is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNothingToCommit indicates there were no staged changes to commit.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrNoRebaseInProgress is matched against git's own error text when
	// `rebase --continue` is called outside of a rebase; treated as success.
	ErrNoRebaseInProgress = errors.New("no rebase in progress")

	// ErrMergeConflict indicates a merge or rebase produced conflicted files.
	ErrMergeConflict = errors.New("merge conflict detected")
)

// RemoteBranchMissingError is returned by Provision when resume=true is
// requested but no matching remote branch exists to resume from.
type RemoteBranchMissingError struct {
	Branch string
}

func (e *RemoteBranchMissingError) Error() string {
	return "remote branch missing: " + e.Branch
}

// DependencyMergeConflictError is returned by ProvisionWithDeps when merging
// a dependency branch into the transient integration branch conflicts.
type DependencyMergeConflictError struct {
	DepIssue        int
	ConflictedFiles []string
}

func (e *DependencyMergeConflictError) Error() string {
	return "dependency merge conflict from issue " + strconv.Itoa(e.DepIssue)
}
