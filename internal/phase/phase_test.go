package phase

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandCapturesExitCodeAndOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	result, err := RunCommand(context.Background(), t.TempDir(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stdout, "out")
	assert.Contains(t, result.Stderr, "err")
	assert.False(t, result.Passed())
}

func TestRunCommandEmptyArgvIsNoop(t *testing.T) {
	result, err := RunCommand(context.Background(), t.TempDir(), nil, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Passed())
}

func TestRunCommandTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	result, err := RunCommand(context.Background(), t.TempDir(), []string{"sh", "-c", "sleep 5"}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.False(t, result.Passed())
}
