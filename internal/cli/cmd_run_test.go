package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRunCmdDeclaresExpectedFlags(t *testing.T) {
	cmd := newRunCmd()
	for _, name := range []string{"issue", "parallel", "resume", "dry-run", "respond-to-reviews", "no-pr"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "missing --%s flag", name)
	}
}
