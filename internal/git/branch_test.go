package git

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchName(t *testing.T) {
	assert.Equal(t, "cadre/issue-42", BranchName(42, ""))
	assert.Equal(t, "cadre/issue-42-fix-the-thing", BranchName(42, "Fix the Thing!"))
}

func TestBranchNameTruncates(t *testing.T) {
	title := strings.Repeat("a very long title indeed ", 10)
	name := BranchName(7, title)
	assert.LessOrEqual(t, len(name), 100)
	assert.True(t, strings.HasPrefix(name, "cadre/issue-7-"))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Fix the Thing!":  "fix-the-thing",
		"  leading/trail ": "leading-trail",
		"already-slug":     "already-slug",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestWorktreeDirNameAndPath(t *testing.T) {
	assert.Equal(t, "issue-9", WorktreeDirName(9))
	assert.Equal(t, "/root/issue-9", WorktreePath("/root", 9))
}

func TestDepsBranchName(t *testing.T) {
	assert.Equal(t, "cadre/deps-3", DepsBranchName(3))
}
